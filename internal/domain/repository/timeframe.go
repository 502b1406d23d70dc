package repository

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is a candle bar size using the primary provider's codes.
type Resolution string

const (
	Res1m  Resolution = "1"
	Res5m  Resolution = "5"
	Res15m Resolution = "15"
	Res30m Resolution = "30"
	Res60m Resolution = "60"
	ResD   Resolution = "D"
	ResW   Resolution = "W"
	ResM   Resolution = "M"
)

// TTLClass groups resolutions that share a cache lifetime.
type TTLClass string

const (
	ClassIntraday TTLClass = "intraday"
	ClassDaily    TTLClass = "daily"
)

var aliases = map[string]Resolution{
	"1m": Res1m, "5m": Res5m, "15m": Res15m, "30m": Res30m,
	"1h": Res60m, "60m": Res60m,
	"1d": ResD, "day": ResD, "daily": ResD,
	"1w": ResW, "week": ResW, "weekly": ResW,
	"1mo": ResM, "month": ResM, "monthly": ResM,
}

// IsValidResolution returns true if r is a supported resolution.
func IsValidResolution(r Resolution) bool {
	switch r {
	case Res1m, Res5m, Res15m, Res30m, Res60m, ResD, ResW, ResM:
		return true
	default:
		return false
	}
}

// DefaultResolution returns the default resolution.
func DefaultResolution() Resolution { return ResD }

// ParseResolution accepts provider codes and common aliases such as "5m"
// or "daily".
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultResolution(), nil
	}
	r := Resolution(strings.ToUpper(s))
	if IsValidResolution(r) {
		return r, nil
	}
	if r, ok := aliases[strings.ToLower(s)]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unsupported resolution %q", s)
}

// NormalizeResolution converts raw string to a valid resolution (or default).
func NormalizeResolution(s string) Resolution {
	r, err := ParseResolution(s)
	if err != nil {
		return DefaultResolution()
	}
	return r
}

// IsDaily reports whether r is daily or coarser.
func (r Resolution) IsDaily() bool {
	return r == ResD || r == ResW || r == ResM
}

func (r Resolution) Class() TTLClass {
	if r.IsDaily() {
		return ClassDaily
	}
	return ClassIntraday
}

// Duration is the nominal bar length. Months count as 30 days.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Res1m:
		return time.Minute
	case Res5m:
		return 5 * time.Minute
	case Res15m:
		return 15 * time.Minute
	case Res30m:
		return 30 * time.Minute
	case Res60m:
		return time.Hour
	case ResW:
		return 7 * 24 * time.Hour
	case ResM:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func (r Resolution) String() string { return string(r) }
