// Package eventlog is the application event sink: an in-memory log with
// listener fan-out, kept for the lifetime of one session.
//
// Components log through an explicit *Log handed to them at construction,
// not through process-global state. Listeners (a GUI panel, a test) get
// every entry as it arrives; a listener that panics is isolated so one
// faulty callback cannot kill the fan-out for the rest.
package eventlog

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug   Level = 10
	LevelInfo    Level = 20
	LevelWarning Level = 30
	LevelError   Level = 40
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Entry is a single log entry.
type Entry struct {
	Time    time.Time
	Level   Level
	Source  string
	Message string
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %-7s [%s] %s",
		e.Time.Format("2006-01-02 15:04:05"), e.Level, e.Source, e.Message)
}

// Listener receives entries as they are logged.
type Listener func(Entry)

// Log collects entries in memory and fans them out to listeners.
type Log struct {
	mu        sync.Mutex
	entries   []Entry
	minLevel  Level
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
}

// New creates a log that keeps everything at or above minLevel.
func New(minLevel Level) *Log {
	return &Log{
		minLevel:  minLevel,
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// Subscribe registers a listener and returns an id for Unsubscribe.
func (l *Log) Subscribe(fn Listener) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (l *Log) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.listeners, id)
}

// Entries returns a copy of the collected entries in chronological order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Clear drops all collected entries. Listeners stay registered.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Debug logs at debug level.
func (l *Log) Debug(source, format string, args ...any) {
	l.append(LevelDebug, source, format, args...)
}

// Info logs at info level.
func (l *Log) Info(source, format string, args ...any) {
	l.append(LevelInfo, source, format, args...)
}

// Warning logs at warning level.
func (l *Log) Warning(source, format string, args ...any) {
	l.append(LevelWarning, source, format, args...)
}

// Error logs at error level.
func (l *Log) Error(source, format string, args ...any) {
	l.append(LevelError, source, format, args...)
}

func (l *Log) append(level Level, source, format string, args ...any) {
	if level < l.minLevel {
		return
	}

	entry := Entry{
		Time:    l.now(),
		Level:   level,
		Source:  source,
		Message: fmt.Sprintf(format, args...),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	ids := make([]int, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, len(ids))
	for i, id := range ids {
		listeners[i] = l.listeners[id]
	}
	l.mu.Unlock()

	for _, fn := range listeners {
		notify(fn, entry)
	}
}

// notify isolates a panicking listener from the rest of the fan-out.
func notify(fn Listener, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventlog: listener panicked: %v", r)
		}
	}()
	fn(entry)
}

// SaveTo writes the collected entries to a plain-text file: a header with
// the save timestamp and application version, then one line per entry in
// chronological order.
func (l *Log) SaveTo(path, version string) error {
	entries := l.Entries()

	var b strings.Builder
	fmt.Fprintf(&b, "scopecap log, saved %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "version: %s\n\n", version)
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("save log: %w", err)
	}
	return nil
}
