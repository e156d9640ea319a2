//go:build windows

package remotecontrol

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// sharedMemorySize is sizeof(struct{ version, process_id uint32 }),
// the fixed layout spec §4.11 mandates as a durable ABI.
const sharedMemorySize = 8

func eventName(identity string, suffix string) string {
	return identity + " " + suffix
}

func lockName(identity string) string {
	return identity + " Lock"
}

func sharedMemoryName(identity string) string {
	return identity + " SharedMemory"
}

// windowsBackend implements backend over named Win32 events, a named
// mutex, and a named file mapping, grounded on the teacher's
// pkg/filesystem/locking/locker_windows.go (CreateMutex/lock idiom) and
// pkg/daemon/ipc_windows.go (named, per-instance OS object naming).
type windowsBackend struct {
	lock windows.Handle

	sharedMemory windows.Handle
	view         uintptr

	stopEvent  windows.Handle
	kill       windows.Handle
	pause      windows.Handle
	unpause    windows.Handle
	showWindow windows.Handle

	isPaused  windows.Handle
	isIdle    windows.Handle
	hasErrors windows.Handle
}

func newBackend(identity string) (backend, error) {
	lock, err := windows.CreateMutex(nil, false, windows.StringToUTF16Ptr(lockName(identity)))
	if err != nil && err != windows.ERROR_ALREADY_EXISTS {
		return nil, fmt.Errorf("creating instance lock: %w", err)
	}

	b := &windowsBackend{lock: lock}

	autoReset := []struct {
		field *windows.Handle
		name  string
	}{
		{&b.kill, "Kill"},
		{&b.pause, "Pause"},
		{&b.unpause, "Unpause"},
		{&b.showWindow, "ShowWindow"},
	}
	for _, e := range autoReset {
		h, err := windows.CreateEvent(nil, 0, 0, windows.StringToUTF16Ptr(eventName(identity, e.name)))
		if err != nil && err != windows.ERROR_ALREADY_EXISTS {
			b.close()
			return nil, fmt.Errorf("creating %s event: %w", e.name, err)
		}
		*e.field = h
	}

	manualReset := []struct {
		field *windows.Handle
		name  string
	}{
		{&b.isPaused, "IsPaused"},
		{&b.isIdle, "IsIdle"},
		{&b.hasErrors, "HasErrors"},
	}
	for _, e := range manualReset {
		h, err := windows.CreateEvent(nil, 1, 0, windows.StringToUTF16Ptr(eventName(identity, e.name)))
		if err != nil && err != windows.ERROR_ALREADY_EXISTS {
			b.close()
			return nil, fmt.Errorf("creating %s event: %w", e.name, err)
		}
		*e.field = h
	}

	// An unnamed, local-only event used to unblock waitAction on Stop;
	// it doesn't need to be discoverable by other processes.
	stopEvent, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("creating internal stop event: %w", err)
	}
	b.stopEvent = stopEvent

	sharedMemory, err := windows.CreateFileMapping(
		windows.InvalidHandle,
		nil,
		windows.PAGE_READWRITE,
		0,
		sharedMemorySize,
		windows.StringToUTF16Ptr(sharedMemoryName(identity)),
	)
	if err != nil && err != windows.ERROR_ALREADY_EXISTS {
		b.close()
		return nil, fmt.Errorf("creating shared memory section: %w", err)
	}
	b.sharedMemory = sharedMemory

	view, err := windows.MapViewOfFile(sharedMemory, windows.FILE_MAP_WRITE, 0, 0, sharedMemorySize)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("mapping shared memory section: %w", err)
	}
	b.view = view

	return b, nil
}

func (b *windowsBackend) tryAcquireInstanceLock() (bool, error) {
	event, err := windows.WaitForSingleObject(b.lock, 0)
	if err != nil {
		return false, err
	}
	// WAIT_OBJECT_0 means we now own the mutex; WAIT_TIMEOUT means
	// another instance already holds it.
	return event == windows.WAIT_OBJECT_0, nil
}

func (b *windowsBackend) publishProcessID(pid uint32) error {
	buf := (*[sharedMemorySize]byte)(unsafe.Pointer(b.view))[:]
	binary.LittleEndian.PutUint32(buf[0:4], 0) // version
	binary.LittleEndian.PutUint32(buf[4:8], pid)
	return nil
}

func (b *windowsBackend) waitAction(stop <-chan struct{}) (Action, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stop:
			windows.SetEvent(b.stopEvent)
		case <-done:
		}
	}()

	handles := []windows.Handle{b.stopEvent, b.kill, b.pause, b.unpause, b.showWindow}
	index, err := windows.WaitForMultipleObjects(handles, false, windows.INFINITE)
	if err != nil {
		return 0, false
	}
	switch index {
	case 0:
		return 0, false
	case 1:
		return ActionKill, true
	case 2:
		return ActionPause, true
	case 3:
		return ActionUnpause, true
	case 4:
		return ActionShowWindow, true
	default:
		return 0, false
	}
}

func (b *windowsBackend) handleFor(s Status) windows.Handle {
	switch s {
	case StatusIsPaused:
		return b.isPaused
	case StatusIsIdle:
		return b.isIdle
	case StatusHasErrors:
		return b.hasErrors
	default:
		return 0
	}
}

func (b *windowsBackend) setStatus(s Status, on bool) {
	h := b.handleFor(s)
	if h == 0 {
		return
	}
	if on {
		windows.SetEvent(h)
	} else {
		windows.ResetEvent(h)
	}
}

func (b *windowsBackend) close() error {
	if b.view != 0 {
		windows.UnmapViewOfFile(b.view)
	}
	for _, h := range []windows.Handle{
		b.sharedMemory, b.stopEvent, b.kill, b.pause, b.unpause,
		b.showWindow, b.isPaused, b.isIdle, b.hasErrors, b.lock,
	} {
		if h != 0 {
			windows.CloseHandle(h)
		}
	}
	return nil
}

// windowsRemoteBackend implements remoteBackend by opening (never
// creating) the handles for an identity it doesn't own.
type windowsRemoteBackend struct{}

func newRemoteBackend() (remoteBackend, error) {
	return windowsRemoteBackend{}, nil
}

func (windowsRemoteBackend) signal(identity string, a Action) error {
	name := eventName(identity, a.String())
	h, err := windows.OpenEvent(windows.EVENT_MODIFY_STATE, false, windows.StringToUTF16Ptr(name))
	if err != nil {
		return fmt.Errorf("opening %s event (is an instance running for this configuration?): %w", a, err)
	}
	defer windows.CloseHandle(h)
	return windows.SetEvent(h)
}
