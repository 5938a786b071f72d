// Package iolock scopes output-file writes (object, ROM, map, symbol) with
// an advisory exclusive lock for the file's lifetime: acquired when the
// writer opens the path, released when it closes it or the process exits
// fatally. This mirrors how a long-running watcher scopes a file handle
// from open to close rather than trusting the OS to clean it up.
package iolock

import "os"

// Lock is an acquired advisory lock tied to an open file. Unlock releases
// it; the caller is still responsible for closing f itself.
type Lock interface {
	Unlock() error
}

// Acquire takes an exclusive advisory lock on f for the duration the
// process holds it open. Platform implementations live in
// iolock_unix.go / iolock_windows.go / iolock_other.go.
func Acquire(f *os.File) (Lock, error) {
	return acquire(f)
}
