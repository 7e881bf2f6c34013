//go:build !windows

package worker

import (
	"bytes"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
)

// configureSysProcAttr places the worker in its own process group so stop
// signals reach any children it forks.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalTerm asks the worker's process group to stop cooperatively.
func signalTerm(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

// signalKill terminates the worker's process group unconditionally.
func signalKill(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// processAlive probes with signal 0. On Linux a quickly-exiting child can
// linger as a zombie until reaped; treat that as not alive.
func processAlive(pid int) bool {
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// decodeExit extracts the exit code and termination signal, if any, from a
// reaped command. Callers must only invoke it after cmd.Wait returned.
func decodeExit(cmd *exec.Cmd) (int, string) {
	ps := cmd.ProcessState
	if ps == nil {
		return -1, ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return -1, ws.Signal().String()
		}
		return ws.ExitStatus(), ""
	}
	return ps.ExitCode(), ""
}
