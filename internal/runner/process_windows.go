//go:build windows

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procCreateJobObjectW      = kernel32.NewProc("CreateJobObjectW")
	procSetInformationJobObj  = kernel32.NewProc("SetInformationJobObject")
	procAssignProcessToJobObj = kernel32.NewProc("AssignProcessToJobObject")
)

// jobObjectExtendedLimitInformation mirrors the Win32
// JOBOBJECT_EXTENDED_LIMIT_INFORMATION struct; only the fields needed to
// set JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE are populated, the rest are left
// zeroed the way the kernel expects for "no limit".
type jobObjectExtendedLimitInformation struct {
	basicLimitInformation struct {
		PerProcessUserTimeLimit int64
		PerJobUserTimeLimit     int64
		LimitFlags              uint32
		MinimumWorkingSetSize   uintptr
		MaximumWorkingSetSize   uintptr
		ActiveProcessLimit      uint32
		Affinity                uintptr
		PriorityClass           uint32
		SchedulingClass         uint32
	}
	ioInfo struct {
		ReadOperationCount  uint64
		WriteOperationCount uint64
		OtherOperationCount uint64
		ReadTransferCount   uint64
		WriteTransferCount  uint64
		OtherTransferCount  uint64
	}
	ProcessMemoryLimit    uintptr
	JobMemoryLimit        uintptr
	PeakProcessMemoryUsed uintptr
	PeakJobMemoryUsed     uintptr
}

const (
	jobObjectExtendedLimitInformationClass = 9
	jobObjectLimitKillOnJobClose           = 0x2000
)

func createJobObject() (syscall.Handle, error) {
	r1, _, e1 := procCreateJobObjectW.Call(0, 0)
	if r1 == 0 {
		return 0, fmt.Errorf("CreateJobObjectW: %w", e1)
	}
	handle := syscall.Handle(r1)

	var info jobObjectExtendedLimitInformation
	info.basicLimitInformation.LimitFlags = jobObjectLimitKillOnJobClose
	r1, _, e1 = procSetInformationJobObj.Call(
		uintptr(handle),
		jobObjectExtendedLimitInformationClass,
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if r1 == 0 {
		syscall.CloseHandle(handle)
		return 0, fmt.Errorf("SetInformationJobObject: %w", e1)
	}
	return handle, nil
}

func assignProcessToJobObject(job syscall.Handle, process syscall.Handle) error {
	r1, _, e1 := procAssignProcessToJobObj.Call(uintptr(job), uintptr(process))
	if r1 == 0 {
		return fmt.Errorf("AssignProcessToJobObject: %w", e1)
	}
	return nil
}

// commandLineShell returns the system shell to run an arbitrary, already
// fully-formatted command line through, preferring %ComSpec% and falling
// back to a fully qualified cmd.exe.
func commandLineShell() (string, error) {
	shell := os.Getenv("ComSpec")
	if filepath.IsAbs(shell) {
		return shell, nil
	}
	systemRoot := os.Getenv("SystemRoot")
	if !filepath.IsAbs(systemRoot) {
		return "", errors.New("invalid ComSpec and SystemRoot environment variables")
	}
	return filepath.Join(systemRoot, "System32", "cmd.exe"), nil
}

// jobControlledRunner runs a formatted command line through the system
// shell inside a job object with JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE, so
// that if AssetCooker itself is killed, every in-flight tool process (and
// any children it spawned) is torn down with it rather than orphaned.
type jobControlledRunner struct{}

// NewProcessRunner returns the production processRunner.
func NewProcessRunner() processRunner {
	return jobControlledRunner{}
}

func (jobControlledRunner) Run(ctx context.Context, commandLine, workDir string, output io.Writer) error {
	shell, err := commandLineShell()
	if err != nil {
		return err
	}

	job, err := createJobObject()
	if err != nil {
		return fmt.Errorf("creating job object: %w", err)
	}
	defer syscall.CloseHandle(job)

	cmd := exec.CommandContext(ctx, shell, "/c", commandLine)
	cmd.Dir = workDir
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow: true,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}

	// The process is already running by the time we can assign it to the
	// job object; a process that exits within this window escapes the
	// kill-on-parent-exit guarantee, but the common case (a build tool
	// that outlives our own assignment call by a wide margin) is covered.
	processHandle, err := syscall.OpenProcess(syscall.PROCESS_ALL_ACCESS, false, uint32(cmd.Process.Pid))
	if err != nil {
		cmd.Process.Kill()
		return fmt.Errorf("opening process handle: %w", err)
	}
	assignErr := assignProcessToJobObject(job, processHandle)
	syscall.CloseHandle(processHandle)
	if assignErr != nil {
		cmd.Process.Kill()
		return fmt.Errorf("assigning process to job object: %w", assignErr)
	}

	return cmd.Wait()
}
