package state

import (
	"errors"
	"fmt"

	"github.com/roach88/watergrant/internal/address"
)

// ErrForeignAddress is returned for addresses this projection does not
// track. Callers skip them without logging an error.
var ErrForeignAddress = errors.New("foreign address")

// DecodeError reports a payload that does not parse as the container
// expected for its address. It is scoped to one address.
type DecodeError struct {
	Address string
	Kind    address.Kind
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s container at %s: %v", e.Kind, e.Address, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
