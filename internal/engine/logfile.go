package engine

import "os"

// openLogFile opens the fabric's hot-path log file for appending, creating
// it if necessary. Log files are append-only text: the logger never
// rewrites or truncates a line it has already written.
func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}
