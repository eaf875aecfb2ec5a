package retry

import "strings"

// Class tells whether a failed remote call is worth repeating.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// transientMarkers are matched as substrings of the lowercased error text.
var transientMarkers = []string{
	"timeout", "time out", "timed out",
	"connection", "network", "unavailable",
	"busy", "overload", "rate limit",
	"temporary", "retry", "try again",
	"502", "503", "504",
}

func IsTransient(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Classify labels err by its message. A nil error is permanent: there is nothing to retry.
func Classify(err error) Class {
	if err == nil || !IsTransient(err.Error()) {
		return Permanent
	}
	return Transient
}
