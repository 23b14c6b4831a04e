//go:build !linux && !darwin

package staticfile

import "errors"

func mkfifo(string) error { return errors.New("no fifos on this platform") }
