package offline

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/jengzang/inkmap-backend-go/internal/models"
)

// Entry is one buffered event plus its enqueue timestamp
type Entry struct {
	EnqueuedAt int64              `json:"enqueuedAt"` // Milliseconds
	Event      models.CanvasEvent `json:"event"`
}

// Queue is a durable, append-only buffer of emitted-but-unacknowledged
// events, persisted as one JSON line per entry. Existing entries are
// reloaded on open, so a crash between enqueue and drain loses nothing
// already flushed to disk.
type Queue struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	entries []Entry
}

// Open creates or reopens the queue file at path
func Open(path string) (*Queue, error) {
	entries, err := loadEntries(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}

	return &Queue{path: path, file: f, entries: entries}, nil
}

func loadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn tail write from a crash; everything before it is intact
			break
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan offline queue: %w", err)
	}
	return entries, nil
}

// Enqueue appends an event and persists it before returning
func (q *Queue) Enqueue(ev models.CanvasEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := Entry{EnqueuedAt: time.Now().UnixMilli(), Event: ev}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal offline entry: %w", err)
	}
	if _, err := q.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append offline entry: %w", err)
	}
	if err := q.file.Sync(); err != nil {
		return fmt.Errorf("sync offline queue: %w", err)
	}

	q.entries = append(q.entries, e)
	return nil
}

// Drain returns all queued events in enqueue order and atomically empties
// the queue, truncating the backing file.
func (q *Queue) Drain() ([]models.CanvasEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil, nil
	}

	events := make([]models.CanvasEvent, len(q.entries))
	for i, e := range q.entries {
		events[i] = e.Event
	}

	if err := q.file.Truncate(0); err != nil {
		return nil, fmt.Errorf("truncate offline queue: %w", err)
	}
	if _, err := q.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewind offline queue: %w", err)
	}

	q.entries = nil
	return events, nil
}

// Len returns the number of queued events without draining
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Empty reports whether nothing is queued
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Close releases the backing file
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.file.Close()
}
