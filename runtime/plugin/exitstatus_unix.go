//go:build !windows

package plugin

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// classifyExit distinguishes a plugin child that exited with a status code
// from one killed by a signal (a crash, not a declared failure), so the
// registry can report KindPluginLoad with a clearer message for the latter.
// state.Sys() always yields a syscall.WaitStatus on unix regardless of which
// package is used to interpret it; unix.SignalName gives the readable name.
func classifyExit(state *os.ProcessState) (code int, signaled bool, signal string) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return state.ExitCode(), false, ""
	}
	if ws.Signaled() {
		name := unix.SignalName(syscall.Signal(ws.Signal()))
		if name == "" {
			name = ws.Signal().String()
		}
		return -1, true, name
	}
	return ws.ExitStatus(), false, ""
}
