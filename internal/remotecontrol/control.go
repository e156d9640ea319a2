package remotecontrol

import (
	"encoding/gob"
	"fmt"
	"io"
	"net"
)

// StatusReport is the payload a running instance's control pipe
// returns for "assetcooker status". The shared-memory block mandated
// by spec §4.11 only carries {version, process_id}; everything richer
// travels over this pipe instead, per SPEC_FULL.md's domain-stack
// wiring for the control plane.
type StatusReport struct {
	ProcessID    uint32
	Paused       bool
	Idle         bool
	CommandCount int
	DirtyCount   int
	ErrorCount   int
}

// ErroredCommand identifies one command currently in the Error state,
// for "assetcooker cook-errored" to list and re-queue by id.
type ErroredCommand struct {
	ID     uint64
	Rule   string
	Input  string
	Output string
}

// StatusSource is implemented by the engine and queried by the control
// pipe server on every incoming request.
type StatusSource interface {
	Status() StatusReport
	ErroredCommands() []ErroredCommand
	RequeueErrored(id uint64) error
	RequeueAllErrored() int
	ForceCook(id uint64) error
}

type requestKind uint8

const (
	requestStatus requestKind = iota
	requestErroredCommands
	requestRequeueErrored
	requestRequeueAllErrored
	requestForceCook
)

type request struct {
	Kind requestKind
	ID   uint64 // only meaningful for requestRequeueErrored and requestForceCook
}

type response struct {
	Status   StatusReport
	Errored  []ErroredCommand
	Requeued int
	ErrorMsg string
}

// pipeListener abstracts the OS-level named-pipe listener so Serve and
// the client dialers have exactly one platform seam, mirroring
// backend's role for the event/shared-memory ABI.
type pipeListener interface {
	net.Listener
}

// ControlServer answers control-pipe requests against a StatusSource.
// Its Serve loop is meant to run on its own goroutine for the process
// lifetime, stopped by closing the listener from Close.
type ControlServer struct {
	listener pipeListener
	source   StatusSource
}

// NewControlServer creates the control pipe for identity and records
// its name under cacheDir, in the pipe-name-record-file pattern lifted
// from the teacher's pkg/daemon/ipc_windows.go, so ControlClient can
// find it without the two processes sharing any other state.
func NewControlServer(identity, cacheDir string, source StatusSource) (*ControlServer, error) {
	listener, err := listenPipe(identity, cacheDir)
	if err != nil {
		return nil, fmt.Errorf("remotecontrol: opening control pipe: %w", err)
	}
	return &ControlServer{listener: listener, source: source}, nil
}

// Serve accepts connections until the listener is closed.
func (s *ControlServer) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *ControlServer) handle(conn net.Conn) {
	defer conn.Close()

	var req request
	if err := gob.NewDecoder(conn).Decode(&req); err != nil {
		return
	}

	var resp response
	switch req.Kind {
	case requestStatus:
		resp.Status = s.source.Status()
	case requestErroredCommands:
		resp.Errored = s.source.ErroredCommands()
	case requestRequeueErrored:
		if err := s.source.RequeueErrored(req.ID); err != nil {
			resp.ErrorMsg = err.Error()
		}
	case requestRequeueAllErrored:
		resp.Requeued = s.source.RequeueAllErrored()
	case requestForceCook:
		if err := s.source.ForceCook(req.ID); err != nil {
			resp.ErrorMsg = err.Error()
		}
	}

	gob.NewEncoder(conn).Encode(&resp)
}

// Close stops Serve and removes the pipe name record.
func (s *ControlServer) Close() error {
	return s.listener.Close()
}

// ControlClient dials a running instance's control pipe for the CLI's
// "assetcooker status" / "assetcooker cook-errored" subcommands.
type ControlClient struct {
	conn net.Conn
}

// DialControl connects to identity's control pipe, recorded under
// cacheDir by a running instance's ControlServer.
func DialControl(identity, cacheDir string) (*ControlClient, error) {
	conn, err := dialPipe(identity, cacheDir)
	if err != nil {
		return nil, fmt.Errorf("remotecontrol: dialing control pipe (is an instance running for this configuration?): %w", err)
	}
	return &ControlClient{conn: conn}, nil
}

func (c *ControlClient) roundTrip(req request) (response, error) {
	if err := gob.NewEncoder(c.conn).Encode(&req); err != nil {
		return response{}, err
	}
	var resp response
	if err := gob.NewDecoder(c.conn).Decode(&resp); err != nil && err != io.EOF {
		return response{}, err
	}
	return resp, nil
}

// Status requests and returns the running instance's current status.
func (c *ControlClient) Status() (StatusReport, error) {
	resp, err := c.roundTrip(request{Kind: requestStatus})
	return resp.Status, err
}

// ErroredCommands requests and returns the running instance's commands
// currently in the Error state.
func (c *ControlClient) ErroredCommands() ([]ErroredCommand, error) {
	resp, err := c.roundTrip(request{Kind: requestErroredCommands})
	return resp.Errored, err
}

// RequeueErrored asks the running instance to re-queue the given
// command, matching §7's "manual 'Cook Errored' action".
func (c *ControlClient) RequeueErrored(id uint64) error {
	resp, err := c.roundTrip(request{Kind: requestRequeueErrored, ID: id})
	if err != nil {
		return err
	}
	if resp.ErrorMsg != "" {
		return fmt.Errorf("%s", resp.ErrorMsg)
	}
	return nil
}

// RequeueAllErrored asks the running instance to re-queue every command
// currently in the Error state, mirroring the original's batch
// QueueErroredCommands (the "retry everything" counterpart to
// RequeueErrored's single-id form). It returns the number requeued.
func (c *ControlClient) RequeueAllErrored() (int, error) {
	resp, err := c.roundTrip(request{Kind: requestRequeueAllErrored})
	if err != nil {
		return 0, err
	}
	return resp.Requeued, nil
}

// ForceCook asks the running instance to cook the given command
// immediately, jumping it to the front of the queue regardless of its
// current dirty state, mirroring the original's manual "select and
// cook" action.
func (c *ControlClient) ForceCook(id uint64) error {
	resp, err := c.roundTrip(request{Kind: requestForceCook, ID: id})
	if err != nil {
		return err
	}
	if resp.ErrorMsg != "" {
		return fmt.Errorf("%s", resp.ErrorMsg)
	}
	return nil
}

// Close releases the client connection.
func (c *ControlClient) Close() error {
	return c.conn.Close()
}
