//go:build !windows

package remotecontrol

import "errors"

var errUnsupported = errors.New("remotecontrol: named events, shared memory, and instance locking are only supported on Windows")

type unsupportedBackend struct{}

func newBackend(identity string) (backend, error) {
	return nil, errUnsupported
}

func (unsupportedBackend) tryAcquireInstanceLock() (bool, error)          { return false, errUnsupported }
func (unsupportedBackend) publishProcessID(pid uint32) error             { return errUnsupported }
func (unsupportedBackend) waitAction(stop <-chan struct{}) (Action, bool) { return 0, false }
func (unsupportedBackend) setStatus(s Status, on bool)                   {}
func (unsupportedBackend) close() error                                  { return nil }

type unsupportedRemoteBackend struct{}

func newRemoteBackend() (remoteBackend, error) {
	return nil, errUnsupported
}

func (unsupportedRemoteBackend) signal(identity string, a Action) error {
	return errUnsupported
}
