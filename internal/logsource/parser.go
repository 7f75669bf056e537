package logsource

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Format selects the access-log line grammar.
type Format string

const (
	FormatKV   Format = "kv"   // whitespace-delimited key=value tokens
	FormatJSON Format = "json" // one JSON object per line
)

// ParseFormat validates a raw format name. Empty defaults to kv.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "kv":
		return FormatKV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want kv or json)", raw)
	}
}

// Parser turns raw log lines into Records.
type Parser struct {
	format Format
	now    func() time.Time
}

// NewParser creates a parser for the given format. now supplies the record
// timestamp when the line itself does not carry one.
func NewParser(format Format, now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{format: format, now: now}
}

// Parse parses one line. Lines missing a required field (pool, release,
// status) or carrying a non-numeric status return an error; the caller skips
// and counts them.
func (p *Parser) Parse(line string) (Record, error) {
	var pool, release, status, ts string
	var err error

	switch p.format {
	case FormatJSON:
		pool, release, status, ts, err = parseJSONLine(line)
	default:
		pool, release, status, ts, err = parseKVLine(line)
	}
	if err != nil {
		return Record{}, err
	}

	code, err := lastStatus(status)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Pool:    ParsePool(pool),
		Release: release,
		Status:  code,
		Time:    p.now(),
	}
	if ts != "" {
		if t, terr := time.Parse(time.RFC3339, ts); terr == nil {
			rec.Time = t
		}
	}
	return rec, nil
}

// parseKVLine tokenizes whitespace-delimited key=value pairs. Tokens without
// an "=" continue the previous value: nginx writes upstream lists as
// "upstream_status=500, 502" and the final entry is the request outcome.
func parseKVLine(line string) (pool, release, status, ts string, err error) {
	fields := map[string]string{}
	lastKey := ""
	for _, tok := range strings.Fields(line) {
		k, v, found := strings.Cut(tok, "=")
		if !found {
			if lastKey != "" {
				fields[lastKey] += "," + tok
			}
			continue
		}
		fields[k] = v
		lastKey = k
	}

	pool, ok := fields["pool"]
	if !ok {
		return "", "", "", "", fmt.Errorf("missing pool field")
	}
	release, ok = fields["release"]
	if !ok {
		return "", "", "", "", fmt.Errorf("missing release field")
	}
	status, ok = fields["status"]
	if !ok {
		status, ok = fields["upstream_status"]
	}
	if !ok {
		return "", "", "", "", fmt.Errorf("missing status field")
	}
	return pool, release, status, fields["time"], nil
}

// parseJSONLine reads the same fields from a JSON-formatted access log line.
func parseJSONLine(line string) (pool, release, status, ts string, err error) {
	if !gjson.Valid(line) {
		return "", "", "", "", fmt.Errorf("invalid json line")
	}
	body := []byte(line)

	poolRes := gjson.GetBytes(body, "pool")
	if !poolRes.Exists() {
		return "", "", "", "", fmt.Errorf("missing pool field")
	}
	releaseRes := gjson.GetBytes(body, "release")
	if !releaseRes.Exists() {
		return "", "", "", "", fmt.Errorf("missing release field")
	}
	statusRes := gjson.GetBytes(body, "status")
	if !statusRes.Exists() {
		statusRes = gjson.GetBytes(body, "upstream_status")
	}
	if !statusRes.Exists() {
		return "", "", "", "", fmt.Errorf("missing status field")
	}
	return poolRes.String(), releaseRes.String(), statusRes.String(), gjson.GetBytes(body, "time").String(), nil
}

// lastStatus parses a status value that may be a comma-separated upstream
// list ("500,502"). The last numeric entry is the final outcome.
func lastStatus(raw string) (int, error) {
	code := -1
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		code = n
	}
	if code < 0 {
		return 0, fmt.Errorf("no numeric status in %q", raw)
	}
	return code, nil
}
