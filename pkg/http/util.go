package http

import (
	"time"

	xutil "MarketPull/pkg/util"
)

// ParseTime accepts a date, RFC3339 or unix seconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }

// SplitList splits a comma separated query value.
func SplitList(s string) []string { return xutil.SplitList(s) }
