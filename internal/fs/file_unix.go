package fs

import (
	"errors"

	"golang.org/x/sys/unix"
)

func fixpath(name string) string {
	return name
}

// IsTransient reports whether err is worth retrying: the call was interrupted
// or the kernel was briefly out of a resource.
func IsTransient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.ENFILE)
}
