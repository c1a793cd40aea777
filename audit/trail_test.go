package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killswitch_go_1/killswitch"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	trail, err := NewTrail(t.TempDir(), 10, 30, false)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })
	return trail
}

func makeEvent(reason string) killswitch.Event {
	return killswitch.NewEvent(killswitch.StateActive, killswitch.StateKilled, reason, "test", nil)
}

func TestLogAndQueryRoundTrip(t *testing.T) {
	trail := newTestTrail(t)

	for i := 0; i < 5; i++ {
		ev := makeEvent(fmt.Sprintf("reason %d", i))
		require.NoError(t, trail.LogEvent(ev))
	}

	events, err := trail.GetEvents(time.Time{}, time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	// Chronological order, append order preserved.
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("reason %d", i), events[i].Reason)
		if i > 0 {
			assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
		}
	}
}

func TestLimitKeepsMostRecent(t *testing.T) {
	trail := newTestTrail(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, trail.LogEvent(makeEvent(fmt.Sprintf("reason %d", i))))
	}

	events, err := trail.GetEvents(time.Time{}, time.Now().Add(24*time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "reason 7", events[0].Reason)
	assert.Equal(t, "reason 9", events[2].Reason)
}

func TestQueryByResultingState(t *testing.T) {
	trail := newTestTrail(t)

	require.NoError(t, trail.LogEvent(killswitch.NewEvent(killswitch.StateActive, killswitch.StateKilled, "stop", "test", nil)))
	require.NoError(t, trail.LogEvent(killswitch.NewEvent(killswitch.StateKilled, killswitch.StateRecovering, "recovery requested", "ops", nil)))
	require.NoError(t, trail.LogEvent(killswitch.NewEvent(killswitch.StateRecovering, killswitch.StateActive, "recovery completed", "system", nil)))

	events, err := trail.GetEventsByState(killswitch.StateKilled, time.Time{}, time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "stop", events[0].Reason)
}

func TestCorruptLinesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(dir, 10, 30, false)
	require.NoError(t, err)
	defer trail.Close()

	require.NoError(t, trail.LogEvent(makeEvent("good one")))
	trail.Close()

	day := time.Now().Format(dayLayout)
	path := filepath.Join(dir, filePrefix+day+fileSuffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated garbage\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, trail.LogEvent(makeEvent("good two")))

	events, err := trail.GetEvents(time.Time{}, time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "good one", events[0].Reason)
	assert.Equal(t, "good two", events[1].Reason)
}

func TestSizeRotationCompressesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	trail := &Trail{
		dir:         dir,
		maxFileSize: 250,
		compress:    true,
	}
	defer trail.Close()

	require.NoError(t, trail.LogEvent(makeEvent("before rotation")))
	require.NoError(t, trail.LogEvent(makeEvent("after rotation")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var gz, plain int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".gz":
			gz++
		case ".jsonl":
			plain++
		}
	}
	assert.Equal(t, 1, gz, "rotated file should be gzipped")
	assert.Equal(t, 1, plain, "current file stays plain")

	// Both the compressed and the live file are readable in one query.
	events, err := trail.GetEvents(time.Time{}, time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "before rotation", events[0].Reason)
	assert.Equal(t, "after rotation", events[1].Reason)
}

func TestLimitKeepsNewestAcrossSizeRotation(t *testing.T) {
	dir := t.TempDir()
	trail := &Trail{
		dir:         dir,
		maxFileSize: 600,
	}
	defer trail.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, trail.LogEvent(makeEvent(fmt.Sprintf("reason %d", i))))
	}

	// The rotated file carries the older half of the day; the primary file
	// must still be scanned first so the limit keeps the newest events.
	events, err := trail.GetEvents(time.Time{}, time.Now().Add(24*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "reason 4", events[0].Reason)
	assert.Equal(t, "reason 5", events[1].Reason)
}

func TestRapidRotationsLoseNoEvents(t *testing.T) {
	dir := t.TempDir()
	trail := &Trail{
		dir:         dir,
		maxFileSize: 300,
	}
	defer trail.Close()

	// Every append forces a rotation, all within the same wall-clock
	// second; each rotation must land on its own file name.
	for i := 0; i < 10; i++ {
		require.NoError(t, trail.LogEvent(makeEvent(fmt.Sprintf("reason %d", i))))
	}

	events, err := trail.GetEvents(time.Time{}, time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("reason %d", i), ev.Reason)
	}
}

func TestCleanupDeletesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(dir, 10, 30, false)
	require.NoError(t, err)
	defer trail.Close()

	old := time.Now().AddDate(0, 0, -45).Format(dayLayout)
	stale := filepath.Join(dir, filePrefix+old+fileSuffix)
	require.NoError(t, os.WriteFile(stale, []byte("{}\n"), 0644))

	require.NoError(t, trail.LogEvent(makeEvent("fresh")))

	removed, err := trail.CleanupOldFiles()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	events, err := trail.GetEvents(time.Time{}, time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFileNamePatternMatching(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"audit_2026-08-31.jsonl", true},
		{"audit_2026-08-31.jsonl.gz", true},
		{"audit_2026-08-31_142233.jsonl", true},
		{"audit_2026-08-31_142233.jsonl.gz", true},
		{"audit_2026-08-31_142233_001.jsonl", true},
		{"audit_2026-08-31_142233_001.jsonl.gz", true},
		{"audit_2026-08-31.log", false},
		{"events_2026-08-31.jsonl", false},
		{"audit_20260831.jsonl", false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, fileDatePattern.MatchString(tc.name), "name %s", tc.name)
	}
}
