// Package logsource follows the proxy access log and turns lines into records.
//
// DESIGN: One tailer goroutine reads the file and hands parsed records to the
// pipeline over an unbuffered channel. A slow consumer therefore blocks the
// read, which is the intended flow control - nothing is buffered, nothing is
// dropped silently.
//
// FILES:
//   - record.go: Record and Pool types
//   - parser.go: key=value and JSON line grammars
//   - tailer.go: rotation/truncation-tolerant file follower
package logsource

import (
	"strings"
	"time"
)

// Pool identifies which backend deployment served a request.
type Pool string

const (
	PoolBlue    Pool = "blue"
	PoolGreen   Pool = "green"
	PoolUnknown Pool = "unknown"
)

// ParsePool maps a raw pool token to a Pool. Anything that is not a known
// pool label (including the "-" nginx writes when no backend answered)
// becomes PoolUnknown rather than an error.
func ParsePool(raw string) Pool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "blue":
		return PoolBlue
	case "green":
		return PoolGreen
	default:
		return PoolUnknown
	}
}

// Known reports whether p is a concrete pool label.
func (p Pool) Known() bool { return p == PoolBlue || p == PoolGreen }

// Record is one parsed access-log line. Immutable once parsed.
type Record struct {
	Pool    Pool
	Release string
	Status  int
	Time    time.Time
}

// IsError reports whether the request outcome counts against the error rate.
func (r Record) IsError() bool { return r.Status >= 500 }
