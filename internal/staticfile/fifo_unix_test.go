//go:build linux || darwin

package staticfile

import "syscall"

func mkfifo(path string) error { return syscall.Mkfifo(path, 0o644) }
