package gateway

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotResumable = errors.New("session is not resumable")
	ErrRateLimited  = errors.New("outbound gateway rate limit exceeded")
	ErrFatalClose   = errors.New("gateway closed with a fatal code")
	ErrNoSession    = errors.New("no stored session")
)

// CloseError is returned by Start when the gateway closed with a fatal code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed (%d: %s)", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return ErrFatalClose }
