//go:build windows
// +build windows

package iolock

import (
	"os"

	"golang.org/x/sys/windows"
)

type windowsLock struct {
	handle windows.Handle
}

func (l *windowsLock) Unlock() error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(l.handle, 0, 1, 0, ol)
}

func acquire(f *os.File) (Lock, error) {
	h := windows.Handle(f.Fd())
	ol := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(h, flags, 0, 1, 0, ol); err != nil {
		return nil, err
	}
	return &windowsLock{handle: h}, nil
}
