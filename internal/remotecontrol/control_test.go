package remotecontrol

import (
	"errors"
	"net"
	"testing"
)

var errCommandNotFound = errors.New("command not found")

type fakeStatusSource struct {
	status       StatusReport
	errored      []ErroredCommand
	requeued     []uint64
	requeueErr   error
	requeueAllN  int
	forceCooked  []uint64
	forceCookErr error
}

func (f *fakeStatusSource) Status() StatusReport              { return f.status }
func (f *fakeStatusSource) ErroredCommands() []ErroredCommand { return f.errored }
func (f *fakeStatusSource) RequeueErrored(id uint64) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued = append(f.requeued, id)
	return nil
}
func (f *fakeStatusSource) RequeueAllErrored() int { return f.requeueAllN }
func (f *fakeStatusSource) ForceCook(id uint64) error {
	if f.forceCookErr != nil {
		return f.forceCookErr
	}
	f.forceCooked = append(f.forceCooked, id)
	return nil
}

func newTestServerAndClient(t *testing.T, source StatusSource) (*ControlServer, *ControlClient) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	server := &ControlServer{listener: listener, source: source}
	go server.Serve()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	client := &ControlClient{conn: conn}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}

// TestControlServerStatusRoundTrip tests that Status() returns exactly
// what the StatusSource reports.
func TestControlServerStatusRoundTrip(t *testing.T) {
	source := &fakeStatusSource{status: StatusReport{ProcessID: 123, Paused: true, CommandCount: 5, DirtyCount: 2, ErrorCount: 1}}
	_, client := newTestServerAndClient(t, source)

	got, err := client.Status()
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if got != source.status {
		t.Errorf("Status() = %+v, want %+v", got, source.status)
	}
}

// TestControlServerErroredCommandsRoundTrip tests that ErroredCommands()
// returns the StatusSource's list.
func TestControlServerErroredCommandsRoundTrip(t *testing.T) {
	source := &fakeStatusSource{errored: []ErroredCommand{
		{ID: 1, Rule: "compress", Input: "a.png", Output: "a.dds"},
	}}
	_, client := newTestServerAndClient(t, source)

	got, err := client.ErroredCommands()
	if err != nil {
		t.Fatalf("ErroredCommands returned error: %v", err)
	}
	if len(got) != 1 || got[0] != source.errored[0] {
		t.Errorf("ErroredCommands() = %+v, want %+v", got, source.errored)
	}
}

// TestControlServerRequeueErroredSuccess tests that a successful requeue
// returns no error and forwards the id to the StatusSource.
func TestControlServerRequeueErroredSuccess(t *testing.T) {
	source := &fakeStatusSource{}
	_, client := newTestServerAndClient(t, source)

	if err := client.RequeueErrored(42); err != nil {
		t.Fatalf("RequeueErrored returned error: %v", err)
	}
	if len(source.requeued) != 1 || source.requeued[0] != 42 {
		t.Errorf("requeued = %v, want [42]", source.requeued)
	}
}

// TestControlServerRequeueErroredFailure tests that a StatusSource error
// is surfaced as the client call's returned error.
func TestControlServerRequeueErroredFailure(t *testing.T) {
	source := &fakeStatusSource{requeueErr: errCommandNotFound}
	_, client := newTestServerAndClient(t, source)

	err := client.RequeueErrored(99)
	if err == nil || err.Error() != errCommandNotFound.Error() {
		t.Errorf("RequeueErrored error = %v, want %v", err, errCommandNotFound)
	}
}

// TestControlServerRequeueAllErroredRoundTrip tests that the requeued
// count the StatusSource reports comes back unchanged.
func TestControlServerRequeueAllErroredRoundTrip(t *testing.T) {
	source := &fakeStatusSource{requeueAllN: 3}
	_, client := newTestServerAndClient(t, source)

	n, err := client.RequeueAllErrored()
	if err != nil {
		t.Fatalf("RequeueAllErrored returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("RequeueAllErrored() = %d, want 3", n)
	}
}

// TestControlServerForceCookSuccess tests that a successful force-cook
// forwards the id to the StatusSource.
func TestControlServerForceCookSuccess(t *testing.T) {
	source := &fakeStatusSource{}
	_, client := newTestServerAndClient(t, source)

	if err := client.ForceCook(7); err != nil {
		t.Fatalf("ForceCook returned error: %v", err)
	}
	if len(source.forceCooked) != 1 || source.forceCooked[0] != 7 {
		t.Errorf("forceCooked = %v, want [7]", source.forceCooked)
	}
}

// TestControlServerForceCookFailure tests that a StatusSource error is
// surfaced as the client call's returned error.
func TestControlServerForceCookFailure(t *testing.T) {
	source := &fakeStatusSource{forceCookErr: errCommandNotFound}
	_, client := newTestServerAndClient(t, source)

	err := client.ForceCook(11)
	if err == nil || err.Error() != errCommandNotFound.Error() {
		t.Errorf("ForceCook error = %v, want %v", err, errCommandNotFound)
	}
}

// TestControlServerCloseStopsServe tests that closing the server's
// listener causes Serve to return (a subsequent dial fails).
func TestControlServerCloseStopsServe(t *testing.T) {
	source := &fakeStatusSource{}
	server, client := newTestServerAndClient(t, source)
	client.Close()
	server.Close()

	if _, err := net.Dial("tcp", server.listener.Addr().String()); err == nil {
		t.Error("dialing after Close unexpectedly succeeded")
	}
}
