//go:build !windows

package remotecontrol

import "net"

func listenPipe(identity, cacheDir string) (pipeListener, error) {
	return nil, errUnsupported
}

func dialPipe(identity, cacheDir string) (net.Conn, error) {
	return nil, errUnsupported
}
