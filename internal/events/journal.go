package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxJournalSize = 10 * 1024 * 1024
	JournalFileName       = "solve.jsonl"
	ArchiveDir            = "archive"
)

// JournalEntry is one line of the solve journal.
type JournalEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal is an append-only JSONL record of solve activity. When the file would grow
// past maxSize it is moved to archive/ and a new file is started.
type Journal struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	maxSize  int64
	rotation int
	now      func() time.Time
}

func OpenJournal(path string, maxSize int64) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j := &Journal{path: path, maxSize: maxSize, now: time.Now}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = f
	j.size = info.Size()
	return nil
}

// Record appends ev. The request id, when present in the event data, is lifted into
// its own field so entries of one solve can be grepped together.
func (j *Journal) Record(ev Event) error {
	entry := JournalEntry{
		Timestamp: ev.Timestamp,
		Event:     string(ev.Type),
		Details:   ev.Data,
	}
	if id, ok := ev.Data["request_id"].(string); ok {
		entry.RequestID = id
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = j.now().UTC()
	}
	return j.Write(entry)
}

func (j *Journal) Write(entry JournalEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal closed")
	}
	if j.size > 0 && j.size+int64(len(line)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}
	n, err := j.file.Write(line)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	j.size += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return err
	}
	j.file = nil
	dir := filepath.Join(filepath.Dir(j.path), ArchiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	j.rotation++
	base := strings.TrimSuffix(filepath.Base(j.path), filepath.Ext(j.path))
	name := fmt.Sprintf("%s.%s.%d%s", base, j.now().Format("20060102_150405"), j.rotation, filepath.Ext(j.path))
	if err := os.Rename(j.path, filepath.Join(dir, name)); err != nil {
		return err
	}
	return j.open()
}

// Attach subscribes the journal to solve events on bus. Write failures go to onErr.
func (j *Journal) Attach(bus *Bus, onErr func(error)) func() {
	return bus.Subscribe(func(ev Event) {
		if err := j.Record(ev); err != nil && onErr != nil {
			onErr(err)
		}
	}, SolveEvents...)
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Sync()
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	return err
}

// ReadJournal returns every well-formed entry of the journal at path, oldest first.
func ReadJournal(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var out []JournalEntry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e JournalEntry
		if err := dec.Decode(&e); err != nil {
			break
		}
		out = append(out, e)
	}
	return out, nil
}
