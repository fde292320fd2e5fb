package logger

import "github.com/mattn/go-isatty"

// isTerminal reports whether fd is attached to a terminal. It gates
// ANSI color in the pretty handler; files and pipes get plain text.
func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
