//go:build windows

package plugin

import "os"

// classifyExit on Windows has no signal concept; every exit is a plain
// status code.
func classifyExit(state *os.ProcessState) (code int, signaled bool, signal string) {
	return state.ExitCode(), false, ""
}
