//go:build windows

package worker

import (
	"os/exec"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no cooperative SIGTERM for arbitrary processes; both the stop
// request and the escalation use TerminateProcess.
func signalTerm(pid int) { terminate(pid) }

func signalKill(pid int) { terminate(pid) }

func terminate(pid int) {
	if pid <= 0 {
		return
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// Process is already gone.
		return
	}
	defer closeHandle(handle)
	_, _, _ = procTerminateProcess.Call(uintptr(handle), uintptr(1))
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := openProcess(processQueryInformation, uint32(pid))
	if err != nil {
		return false
	}
	defer closeHandle(handle)
	return true
}

func openProcess(access uint32, processID uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), uintptr(0), uintptr(processID))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}

func decodeExit(cmd *exec.Cmd) (int, string) {
	ps := cmd.ProcessState
	if ps == nil {
		return -1, ""
	}
	return ps.ExitCode(), ""
}
