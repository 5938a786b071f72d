//go:build linux || darwin
// +build linux darwin

package iolock

import (
	"os"

	"golang.org/x/sys/unix"
)

type unixLock struct {
	fd int
}

func (l *unixLock) Unlock() error {
	return unix.Flock(l.fd, unix.LOCK_UN)
}

func acquire(f *os.File) (Lock, error) {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, err
	}
	return &unixLock{fd: fd}, nil
}
