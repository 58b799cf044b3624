package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"refocus/internal/event"
)

const (
	DefaultBatchSize = 100

	// Window titles can get long but a megabyte per line is plenty.
	maxLineBytes = 1 << 20
)

// Store is an append-only activity log. Events buffer in memory and are
// written one JSON object per line to a partition file per calendar day
// (events-YYYY-MM-DD.jsonl). Unflushed events are lost with the process;
// a failed flush keeps the buffer so the next trigger retries it.
type Store struct {
	mu        sync.Mutex
	dir       string
	batchSize int
	buf       []event.Event

	now func() time.Time
}

func NewStore(dir string, batchSize int) *Store {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Store{
		dir:       dir,
		batchSize: batchSize,
		buf:       make([]event.Event, 0, batchSize),
		now:       time.Now,
	}
}

// Init ensures the partition directory exists.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create event log directory %s: %w", s.dir, err)
	}
	log.Printf("Event log directory: %s", s.dir)
	return nil
}

// Append buffers e and flushes once the buffer reaches the batch size.
// Flush errors are logged, never returned; the buffer is retained and
// the write retried on the next append or explicit Flush.
func (s *Store) Append(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, e)
	if len(s.buf) >= s.batchSize {
		if err := s.flushLocked(); err != nil {
			log.Printf("Warning: event flush failed, %d events still buffered: %v", len(s.buf), err)
		}
	}
}

// Flush writes every buffered event to the current day partition. The
// buffer is cleared only when the write succeeds.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}

	var lines bytes.Buffer
	for _, e := range s.buf {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
		}
		lines.Write(b)
		lines.WriteByte('\n')
	}

	path := s.partitionPath(s.now())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open partition %s: %w", path, err)
	}
	if _, err := f.Write(lines.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write partition %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close partition %s: %w", path, err)
	}

	s.buf = s.buf[:0]
	return nil
}

func (s *Store) partitionPath(t time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("events-%s.jsonl", t.Format("2006-01-02")))
}

// Pending returns the number of buffered, not yet flushed events.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// QueryRange returns events with start <= timestamp <= end (unix millis),
// ascending by timestamp. All partition files are scanned; lines that do
// not parse or overrun the line cap are skipped with a logged warning.
func (s *Store) QueryRange(start, end int64) ([]event.Event, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	sort.Strings(paths)

	var events []event.Event
	for _, path := range paths {
		parsed, err := readPartition(path, start, end)
		if err != nil {
			return nil, err
		}
		events = append(events, parsed...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events, nil
}

// QueryRecent returns events from the trailing window of the given size.
func (s *Store) QueryRecent(minutes int) ([]event.Event, error) {
	end := s.now()
	start := end.Add(-time.Duration(minutes) * time.Minute)
	return s.QueryRange(start.UnixMilli(), end.UnixMilli())
}

// Shutdown flushes whatever is still buffered.
func (s *Store) Shutdown() error {
	log.Println("Flushing event log.")
	return s.Flush()
}

func readPartition(path string, start, end int64) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", path, err)
	}
	defer f.Close()

	var events []event.Event
	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		line, tooLong, rerr := readLine(r)
		if rerr != nil && rerr != io.EOF {
			return nil, fmt.Errorf("failed to read partition %s: %w", path, rerr)
		}
		if len(line) == 0 && !tooLong {
			break
		}
		lineNo++
		if tooLong {
			log.Printf("Warning: skipping oversized line %d in %s (cap %d bytes)", lineNo, path, maxLineBytes)
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			log.Printf("Warning: skipping corrupt line %d in %s: %v", lineNo, path, err)
			continue
		}
		if e.Timestamp < start || e.Timestamp > end {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// readLine reads up to and including the next newline. A line longer
// than maxLineBytes is consumed to its end and returned empty with
// tooLong set, so one runaway line cannot abort the partition scan.
func readLine(r *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	var tooLong bool
	for {
		chunk, err := r.ReadSlice('\n')
		if len(chunk) > 0 && !tooLong {
			line = append(line, chunk...)
			if len(line) > maxLineBytes {
				line = nil
				tooLong = true
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, tooLong, err
	}
}
