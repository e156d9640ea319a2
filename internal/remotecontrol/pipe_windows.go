//go:build windows

package remotecontrol

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/Microsoft/go-winio"
	"github.com/google/uuid"
)

// pipeNameRecordPath mirrors the teacher's pkg/daemon/ipc_windows.go:
// the pipe's random name is written to a well-known file so a second
// process can find it without either side needing to agree on the name
// in advance.
func pipeNameRecordPath(identity, cacheDir string) string {
	safe := strings.NewReplacer(" ", "-", ":", "").Replace(identity)
	return filepath.Join(cacheDir, safe+".pipe")
}

func listenPipe(identity, cacheDir string) (pipeListener, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating pipe name: %w", err)
	}
	pipeName := fmt.Sprintf(`\\.\pipe\assetcooker-%s`, id.String())

	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("looking up current user: %w", err)
	}
	// Grant access only to the current user's SID, the same
	// Discretionary Access Control List idiom as the teacher's
	// pkg/daemon/ipc_windows.go.
	securityDescriptor := fmt.Sprintf("D:P(A;;GA;;;%s)", u.Uid)

	listener, err := winio.ListenPipe(pipeName, &winio.PipeConfig{SecurityDescriptor: securityDescriptor})
	if err != nil {
		return nil, err
	}

	recordPath := pipeNameRecordPath(identity, cacheDir)
	if err := os.WriteFile(recordPath, []byte(pipeName), 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("recording pipe name: %w", err)
	}

	return &recordedListener{Listener: listener, recordPath: recordPath}, nil
}

// recordedListener removes the pipe name record file on Close, the
// same lifecycle the teacher's daemonListener follows.
type recordedListener struct {
	net.Listener
	recordPath string
}

func (l *recordedListener) Close() error {
	os.Remove(l.recordPath)
	return l.Listener.Close()
}

func dialPipe(identity, cacheDir string) (net.Conn, error) {
	recordPath := pipeNameRecordPath(identity, cacheDir)
	raw, err := os.ReadFile(recordPath)
	if err != nil {
		return nil, fmt.Errorf("reading pipe name record: %w", err)
	}
	return winio.DialPipe(string(raw), nil)
}
