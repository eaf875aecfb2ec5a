package hedge

import (
	"errors"
	"strings"
)

var (
	ErrMarketUnresolved = errors.New("market unresolved")
	ErrAlreadyOpen      = errors.New("pair already open")
)

// LegError reports which leg of a pair operation failed.
// Incomplete is set when the operation left exposure on exactly one leg.
type LegError struct {
	Op         string
	Long       error
	Short      error
	Incomplete bool
}

func (e *LegError) Error() string {
	var parts []string
	if e.Long != nil {
		parts = append(parts, "long leg: "+e.Long.Error())
	}
	if e.Short != nil {
		parts = append(parts, "short leg: "+e.Short.Error())
	}
	return e.Op + ": " + strings.Join(parts, "; ")
}

func (e *LegError) Unwrap() []error {
	var errs []error
	if e.Long != nil {
		errs = append(errs, e.Long)
	}
	if e.Short != nil {
		errs = append(errs, e.Short)
	}
	return errs
}

// FailedLegs names the failed legs, e.g. "long", "short" or "long+short".
func (e *LegError) FailedLegs() string {
	switch {
	case e.Long != nil && e.Short != nil:
		return "long+short"
	case e.Long != nil:
		return "long"
	case e.Short != nil:
		return "short"
	default:
		return ""
	}
}
