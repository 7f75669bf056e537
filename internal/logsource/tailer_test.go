package logsource_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xodeeq/poolwatch/internal/logsource"
	"github.com/xodeeq/poolwatch/internal/monitoring"
)

const tailPoll = 10 * time.Millisecond

func startTailer(t *testing.T, path string) (<-chan logsource.Record, context.CancelFunc) {
	t.Helper()

	parser := logsource.NewParser(logsource.FormatKV, nil)
	tailer := logsource.NewTailer(path, parser, monitoring.NewMetrics(), tailPoll)

	ctx, cancel := context.WithCancel(context.Background())
	records := make(chan logsource.Record)
	go func() {
		_ = tailer.Run(ctx, records)
	}()
	t.Cleanup(cancel)
	return records, cancel
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
}

func nextRecord(t *testing.T, records <-chan logsource.Record) logsource.Record {
	t.Helper()
	select {
	case rec := <-records:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
		return logsource.Record{}
	}
}

func TestTailer_FollowsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	appendLine(t, path, `pool=blue release=r1 status=200`) // pre-existing, skipped

	records, _ := startTailer(t, path)
	time.Sleep(5 * tailPoll) // let the tailer reach EOF before appending

	appendLine(t, path, `pool=blue release=r1 status=502`)
	rec := nextRecord(t, records)

	assert.Equal(t, logsource.PoolBlue, rec.Pool)
	assert.Equal(t, 502, rec.Status)
}

func TestTailer_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	appendLine(t, path, "boot")

	records, _ := startTailer(t, path)
	time.Sleep(5 * tailPoll)

	appendLine(t, path, `GET / 200 garbage with no fields`)
	appendLine(t, path, `pool=green release=r2 status=200`)

	rec := nextRecord(t, records)
	assert.Equal(t, logsource.PoolGreen, rec.Pool)
}

func TestTailer_SurvivesRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	appendLine(t, path, "boot")

	records, _ := startTailer(t, path)
	time.Sleep(5 * tailPoll)

	appendLine(t, path, `pool=blue release=r1 status=200`)
	assert.Equal(t, logsource.PoolBlue, nextRecord(t, records).Pool)

	// Rotate: move the file aside and write a fresh one in its place. The
	// replacement is read from the start, so nothing written post-rotation
	// is lost.
	require.NoError(t, os.Rename(path, filepath.Join(dir, "access.log.1")))
	appendLine(t, path, `pool=green release=r2 status=503`)

	rec := nextRecord(t, records)
	assert.Equal(t, logsource.PoolGreen, rec.Pool)
	assert.Equal(t, 503, rec.Status)
}

func TestTailer_SurvivesTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	appendLine(t, path, "padding so truncation shrinks the file")
	appendLine(t, path, "more padding")

	records, _ := startTailer(t, path)
	time.Sleep(5 * tailPoll)

	require.NoError(t, os.Truncate(path, 0))
	time.Sleep(5 * tailPoll)
	appendLine(t, path, `pool=blue release=r3 status=200`)

	rec := nextRecord(t, records)
	assert.Equal(t, "r3", rec.Release)
}

func TestTailer_WaitsForFileToAppear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")

	records, _ := startTailer(t, path)
	time.Sleep(5 * tailPoll)

	appendLine(t, path, `pool=green release=r1 status=200`)
	rec := nextRecord(t, records)

	assert.Equal(t, logsource.PoolGreen, rec.Pool)
}

func TestTailer_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	appendLine(t, path, "boot")

	parser := logsource.NewParser(logsource.FormatKV, nil)
	tailer := logsource.NewTailer(path, parser, monitoring.NewMetrics(), tailPoll)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tailer.Run(ctx, make(chan logsource.Record))
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tailer did not stop after cancel")
	}
}
