package remotecontrol

import (
	"testing"
)

// TestIdentityIsDeterministicAndNormalizesPath tests that Identity
// produces the same id for paths differing only in case or slash style,
// matching spec §6's normalization rule.
func TestIdentityIsDeterministicAndNormalizesPath(t *testing.T) {
	a := Identity(`C:\Projects\Game\cooker.json`)
	b := Identity(`c:\projects\game\cooker.json`)
	c := Identity(`C:/Projects/Game/cooker.json`)
	if a != b || a != c {
		t.Errorf("Identity not normalized: %q, %q, %q", a, b, c)
	}
	if Identity(`C:\A.json`) == Identity(`C:\B.json`) {
		t.Error("Identity collided for two different paths")
	}
}

// TestActionAndStatusString tests the String methods used in log output.
func TestActionAndStatusString(t *testing.T) {
	if ActionKill.String() != "Kill" || ActionShowWindow.String() != "ShowWindow" {
		t.Errorf("Action.String() unexpected: %q, %q", ActionKill, ActionShowWindow)
	}
	if StatusIsPaused.String() != "IsPaused" || StatusHasErrors.String() != "HasErrors" {
		t.Errorf("Status.String() unexpected: %q, %q", StatusIsPaused, StatusHasErrors)
	}
	if Action(99).String() != "unknown" || Status(99).String() != "unknown" {
		t.Error("unrecognized Action/Status did not fall back to \"unknown\"")
	}
}

type fakeHandler struct {
	kills, pauses, unpauses, shows int
}

func (h *fakeHandler) OnKill()       { h.kills++ }
func (h *fakeHandler) OnPause()      { h.pauses++ }
func (h *fakeHandler) OnUnpause()    { h.unpauses++ }
func (h *fakeHandler) OnShowWindow() { h.shows++ }

type fakeBackend struct {
	actions chan Action
	statuses []struct {
		s  Status
		on bool
	}
	closed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{actions: make(chan Action, 8)}
}

func (b *fakeBackend) tryAcquireInstanceLock() (bool, error) { return true, nil }
func (b *fakeBackend) publishProcessID(pid uint32) error     { return nil }
func (b *fakeBackend) waitAction(stop <-chan struct{}) (Action, bool) {
	select {
	case a := <-b.actions:
		return a, true
	default:
	}
	select {
	case a := <-b.actions:
		return a, true
	case <-stop:
		return 0, false
	}
}
func (b *fakeBackend) setStatus(s Status, on bool) {
	b.statuses = append(b.statuses, struct {
		s  Status
		on bool
	}{s, on})
}
func (b *fakeBackend) close() error { b.closed = true; return nil }

func newTestController(backend *fakeBackend, handler Handler) *Controller {
	return &Controller{
		logger:   nil,
		identity: "Asset Cooker test",
		backend:  backend,
		handler:  handler,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// TestControllerRunDispatchesActionsToHandler tests that every signalled
// action invokes the matching Handler method, and that Stop cleanly
// unblocks Run.
func TestControllerRunDispatchesActionsToHandler(t *testing.T) {
	backend := newFakeBackend()
	handler := &fakeHandler{}
	c := newTestController(backend, handler)

	go c.Run()
	backend.actions <- ActionPause
	backend.actions <- ActionUnpause
	backend.actions <- ActionKill
	backend.actions <- ActionShowWindow

	c.Stop()

	if handler.pauses != 1 || handler.unpauses != 1 || handler.kills != 1 || handler.shows != 1 {
		t.Errorf("handler counts = %+v, want one of each", handler)
	}
}

// TestControllerStatusSetters tests that SetPaused/SetIdle/SetHasErrors
// forward to the backend's setStatus with the right Status/bool pair.
func TestControllerStatusSetters(t *testing.T) {
	backend := newFakeBackend()
	c := newTestController(backend, &fakeHandler{})

	c.SetPaused(true)
	c.SetIdle(false)
	c.SetHasErrors(true)

	want := []struct {
		s  Status
		on bool
	}{{StatusIsPaused, true}, {StatusIsIdle, false}, {StatusHasErrors, true}}
	if len(backend.statuses) != len(want) {
		t.Fatalf("got %d status calls, want %d", len(backend.statuses), len(want))
	}
	for i, w := range want {
		if backend.statuses[i] != w {
			t.Errorf("status call %d = %+v, want %+v", i, backend.statuses[i], w)
		}
	}
}

// TestControllerClose tests that Close releases the backend.
func TestControllerClose(t *testing.T) {
	backend := newFakeBackend()
	c := newTestController(backend, &fakeHandler{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !backend.closed {
		t.Error("backend was not closed")
	}
}

// TestIdentityReturnsConfiguredValue tests the Identity accessor.
func TestIdentityReturnsConfiguredValue(t *testing.T) {
	c := newTestController(newFakeBackend(), &fakeHandler{})
	if c.Identity() != "Asset Cooker test" {
		t.Errorf("Identity() = %q", c.Identity())
	}
}
