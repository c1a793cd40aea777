// audit/trail.go
package audit

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"killswitch_go_1/killswitch"
	"killswitch_go_1/logs"
)

const (
	filePrefix = "audit_"
	fileSuffix = ".jsonl"
	dayLayout  = "2006-01-02"
	// Mid-day rotations get a time suffix so the day's primary name stays
	// free for new appends. Rotations within the same second add a numeric
	// counter so no rotation ever renames over an earlier one.
	rotatedTimeLayout = "150405"
)

// fileDatePattern extracts the embedded ISO date and the rotation suffix from
// both plain and rotated (time-suffixed, possibly gzipped) audit file names.
var fileDatePattern = regexp.MustCompile(`^audit_(\d{4}-\d{2}-\d{2})((?:_\d{6})(?:_\d{3})?)?\.jsonl(?:\.gz)?$`)

// Trail is the append-only audit log: one JSONL file per calendar day, each
// line a single serialized transition event in append order. Files rotate at
// day boundaries and when they exceed the size threshold; rotated files are
// gzip-compressed when enabled; files past the retention window are deleted
// by CleanupOldFiles. Single-writer is assumed.
type Trail struct {
	mu            sync.Mutex
	dir           string
	maxFileSize   int64
	retentionDays int
	compress      bool

	file    *os.File
	curDay  string
	curSize int64
}

var _ killswitch.EventSink = (*Trail)(nil)

// NewTrail creates the trail, ensuring the audit directory exists.
func NewTrail(dir string, maxFileSizeMB, retentionDays int, compress bool) (*Trail, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Trail{
		dir:           dir,
		maxFileSize:   int64(maxFileSizeMB) * 1024 * 1024,
		retentionDays: retentionDays,
		compress:      compress,
	}, nil
}

// LogEvent appends one serialized event line to the current day's file,
// rotating first when the day has changed or the size threshold is exceeded.
func (t *Trail) LogEvent(ev killswitch.Event) error {
	line, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	day := ev.Timestamp.Format(dayLayout)
	if day == "" || ev.Timestamp.IsZero() {
		day = time.Now().Format(dayLayout)
	}
	if err := t.ensureFileLocked(day, int64(len(line))); err != nil {
		return err
	}
	n, err := t.file.Write(line)
	t.curSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return t.file.Sync()
}

// GetEvents returns events in [since, until] in chronological order, newest
// files scanned first so the limit keeps the most recent matches.
// Unparseable lines are skipped rather than aborting. A zero until means
// "now"; limit <= 0 means no limit.
func (t *Trail) GetEvents(since, until time.Time, limit int) ([]killswitch.Event, error) {
	return t.query(since, until, limit, nil)
}

// GetEventsByState restricts the query to events whose resulting state
// matches st, e.g. every KILLED transition in a date range.
func (t *Trail) GetEventsByState(st killswitch.State, since, until time.Time, limit int) ([]killswitch.Event, error) {
	return t.query(since, until, limit, func(ev killswitch.Event) bool {
		return ev.NewState == st
	})
}

func (t *Trail) query(since, until time.Time, limit int, match func(killswitch.Event) bool) ([]killswitch.Event, error) {
	if until.IsZero() {
		until = time.Now()
	}

	t.mu.Lock()
	// Flush the current file so just-written events are visible.
	if t.file != nil {
		_ = t.file.Sync()
	}
	t.mu.Unlock()

	files, err := t.listFiles()
	if err != nil {
		return nil, err
	}
	// Newest-relevant-first: later days first; within a day the primary
	// file holds the newest appends, then rotated files by time suffix
	// descending. Raw name comparison would get this wrong because rotated
	// names sort above the primary name.
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if !a.day.Equal(b.day) {
			return a.day.After(b.day)
		}
		if (a.rotation == "") != (b.rotation == "") {
			return a.rotation == ""
		}
		return a.rotation > b.rotation
	})

	var collected []killswitch.Event
	for _, f := range files {
		if f.day.After(until) || f.day.AddDate(0, 0, 1).Before(since) {
			continue
		}
		events, err := readEvents(filepath.Join(t.dir, f.name))
		if err != nil {
			logs.Warnf("[Audit] Skipping unreadable audit file %s: %v", f.name, err)
			continue
		}
		// Within a file events are append-ordered; walk backwards so the
		// newest survive the limit.
		for i := len(events) - 1; i >= 0; i-- {
			ev := events[i]
			if ev.Timestamp.Before(since) || ev.Timestamp.After(until) {
				continue
			}
			if match != nil && !match(ev) {
				continue
			}
			collected = append(collected, ev)
			if limit > 0 && len(collected) >= limit {
				break
			}
		}
		if limit > 0 && len(collected) >= limit {
			break
		}
	}

	// Reverse into chronological order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// CleanupOldFiles deletes audit files whose embedded date is older than the
// retention window. Returns the number of files removed.
func (t *Trail) CleanupOldFiles() (int, error) {
	cutoff := time.Now().AddDate(0, 0, -t.retentionDays)
	files, err := t.listFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if f.day.Before(cutoff.Truncate(24 * time.Hour)) {
			if err := os.Remove(filepath.Join(t.dir, f.name)); err != nil {
				logs.Errorf("[Audit] Failed to delete expired audit file %s: %v", f.name, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logs.Infof("[Audit] Deleted %d audit file(s) past the %d-day retention window", removed, t.retentionDays)
	}
	return removed, nil
}

// Close closes the currently open audit file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// --- internals ---

type auditFile struct {
	name     string
	day      time.Time
	rotation string
}

func (t *Trail) listFiles() ([]auditFile, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}
	var files []auditFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileDatePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		day, err := time.Parse(dayLayout, m[1])
		if err != nil {
			continue
		}
		files = append(files, auditFile{name: e.Name(), day: day, rotation: m[2]})
	}
	return files, nil
}

// ensureFileLocked opens, day-rotates or size-rotates the current file as
// needed so the next write of lineLen bytes can proceed.
func (t *Trail) ensureFileLocked(day string, lineLen int64) error {
	if t.file != nil && t.curDay == day && (t.maxFileSize <= 0 || t.curSize+lineLen <= t.maxFileSize) {
		return nil
	}

	if t.file != nil {
		name := t.file.Name()
		_ = t.file.Close()
		t.file = nil
		switch {
		case t.curDay != day:
			// Day boundary: the finished day's file keeps its name.
			t.compressFile(name)
		case t.maxFileSize > 0 && t.curSize+lineLen > t.maxFileSize:
			// Size rotation mid-day: move the full file to a time-suffixed
			// name so the primary name is free again. If that name is taken
			// by a rotation from the same second, append a counter rather
			// than rename over it.
			base := fmt.Sprintf("%s%s_%s", filePrefix, t.curDay, time.Now().Format(rotatedTimeLayout))
			rotated := filepath.Join(t.dir, base+fileSuffix)
			for seq := 1; rotationExists(rotated); seq++ {
				rotated = filepath.Join(t.dir, fmt.Sprintf("%s_%03d%s", base, seq, fileSuffix))
			}
			if err := os.Rename(name, rotated); err != nil {
				return fmt.Errorf("failed to rotate audit file: %w", err)
			}
			t.compressFile(rotated)
		}
	}

	path := filepath.Join(t.dir, filePrefix+day+fileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit file: %w", err)
	}
	t.file = f
	t.curDay = day
	t.curSize = info.Size()
	return nil
}

// rotationExists reports whether a rotated name is already taken, in plain or
// compressed form.
func rotationExists(path string) bool {
	for _, p := range []string{path, path + ".gz"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// compressFile gzips a rotated file in place. Failures leave the plain file
// behind; the trail stays readable either way.
func (t *Trail) compressFile(path string) {
	if !t.compress {
		return
	}
	src, err := os.Open(path)
	if err != nil {
		logs.Errorf("[Audit] Failed to open %s for compression: %v", path, err)
		return
	}
	defer src.Close()
	dst, err := os.Create(path + ".gz")
	if err != nil {
		logs.Errorf("[Audit] Failed to create %s.gz: %v", path, err)
		return
	}
	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		logs.Errorf("[Audit] Failed to compress %s: %v", path, err)
		gw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gw.Close(); err != nil {
		logs.Errorf("[Audit] Failed to finish compressing %s: %v", path, err)
		dst.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := dst.Close(); err != nil {
		logs.Errorf("[Audit] Failed to close %s.gz: %v", path, err)
		return
	}
	os.Remove(path)
}

// readEvents parses one audit file, gzip-aware, skipping corrupt lines.
func readEvents(path string) ([]killswitch.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		reader = gr
	}

	var events []killswitch.Event
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev killswitch.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logs.Warnf("[Audit] Skipping corrupt audit line in %s: %v", filepath.Base(path), err)
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
