//go:build windows

package logger

import "golang.org/x/sys/windows"

// isTerminal reports whether the file descriptor is attached to a console.
// Color output is only enabled on consoles.
func isTerminal(fd uintptr) bool {
	var mode uint32
	return windows.GetConsoleMode(windows.Handle(fd), &mode) == nil
}
