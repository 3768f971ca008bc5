package vm

import "errors"

// Errors reported to the faulting context or to the loader.
var (
	// ErrFault is a segmentation violation.
	ErrFault = errors.New("bad address")

	// ErrInvalid reports malformed trap information or a call out of order.
	ErrInvalid = errors.New("invalid argument")

	// ErrNoMemory reports that no frame could be reclaimed or that the swap
	// store failed.
	ErrNoMemory = errors.New("out of memory")

	// ErrAddressInUse reports a region that overlaps a reserved page.
	ErrAddressInUse = errors.New("address already in use")
)

// Errno is the status code the trap path returns to user level.
type Errno int

// Status codes.
const (
	OK     Errno = 0
	ENOMEM Errno = 12
	EFAULT Errno = 14
	EINVAL Errno = 22
)

// ErrnoOf maps an error from this module to a status code.
func ErrnoOf(err error) Errno {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrFault), errors.Is(err, ErrAddressInUse):
		return EFAULT
	case errors.Is(err, ErrInvalid):
		return EINVAL
	case errors.Is(err, ErrNoMemory):
		return ENOMEM
	default:
		return EINVAL
	}
}
