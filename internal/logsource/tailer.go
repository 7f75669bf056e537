// Tailer follows the access log the way tail -F does.
//
// DESIGN: Plain polling reader, no inotify. At EOF it sleeps one poll
// interval and re-stats the path; a new inode or a size smaller than the
// bytes already consumed means the file was rotated or truncated and the
// replacement is reopened from its start. The first open seeks to the end so
// only new traffic is observed.
package logsource

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xodeeq/poolwatch/internal/monitoring"
)

// DefaultPollInterval is how often the tailer re-checks the file at EOF.
const DefaultPollInterval = 250 * time.Millisecond

// Tailer follows a single access log file and emits parsed records.
type Tailer struct {
	path    string
	parser  *Parser
	metrics *monitoring.Metrics
	poll    time.Duration

	file    *os.File
	reader  *bufio.Reader
	info    os.FileInfo
	offset  int64
	partial strings.Builder
}

// NewTailer creates a tailer for path. poll <= 0 uses DefaultPollInterval.
func NewTailer(path string, parser *Parser, metrics *monitoring.Metrics, poll time.Duration) *Tailer {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Tailer{path: path, parser: parser, metrics: metrics, poll: poll}
}

// Run follows the file until ctx is cancelled, sending every parsed record
// on out. The send is blocking by design: downstream consumption paces the
// read. Malformed lines are counted and skipped, never fatal.
func (t *Tailer) Run(ctx context.Context, out chan<- Record) error {
	if err := t.open(ctx, true); err != nil {
		return err
	}
	defer t.close()

	log.Info().Str("path", t.path).Msg("tailing access log")

	for {
		line, err := t.readLine(ctx)
		if err != nil {
			return nil // cancelled
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, perr := t.parser.Parse(line)
		if perr != nil {
			t.metrics.RecordParseError()
			log.Debug().Err(perr).Str("line", truncate(line, 200)).Msg("skipping unparseable line")
			continue
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return nil
		}
	}
}

// readLine returns the next complete line, waiting through EOF and surviving
// rotation. Only a cancelled context makes it return an error.
func (t *Tailer) readLine(ctx context.Context) (string, error) {
	for {
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))
		t.partial.WriteString(chunk)

		if err == nil {
			line := strings.TrimRight(t.partial.String(), "\r\n")
			t.partial.Reset()
			return line, nil
		}
		if err != io.EOF {
			log.Warn().Err(err).Str("path", t.path).Msg("log read failed, reopening")
			if rerr := t.reopen(ctx); rerr != nil {
				return "", rerr
			}
			continue
		}

		// EOF: wait for growth, then check whether the file was replaced.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.poll):
		}
		if t.rotated() {
			log.Info().Str("path", t.path).Msg("log file rotated, reopening")
			if rerr := t.reopen(ctx); rerr != nil {
				return "", rerr
			}
		}
	}
}

// rotated reports whether the path no longer names the open file, or the
// file shrank below the consumed offset (truncation).
func (t *Tailer) rotated() bool {
	info, err := os.Stat(t.path)
	if err != nil {
		return true
	}
	if t.info != nil && !os.SameFile(t.info, info) {
		return true
	}
	return info.Size() < t.offset
}

// open waits for the file to exist and opens it. seekEnd is used on the very
// first open so history is not replayed; a file that only appears after
// waiting is new traffic and is read from its start, as are reopened files
// after rotation.
func (t *Tailer) open(ctx context.Context, seekEnd bool) error {
	logged := false
	for {
		f, err := os.Open(t.path)
		if err == nil {
			info, serr := f.Stat()
			if serr != nil {
				f.Close()
				return serr
			}
			t.file = f
			t.info = info
			t.offset = 0
			t.partial.Reset()
			if seekEnd {
				off, serr := f.Seek(0, io.SeekEnd)
				if serr != nil {
					f.Close()
					return serr
				}
				t.offset = off
			}
			t.reader = bufio.NewReader(f)
			return nil
		}

		if !logged {
			log.Info().Str("path", t.path).Msg("waiting for log file")
			logged = true
		}
		seekEnd = false
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.poll):
		}
	}
}

func (t *Tailer) reopen(ctx context.Context) error {
	t.close()
	t.metrics.RecordReopen()
	return t.open(ctx, false)
}

func (t *Tailer) close() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
