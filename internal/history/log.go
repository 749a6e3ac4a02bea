package history

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimestampFormat is the line timestamp layout, e.g. 2024_05_01 13:45:00
const TimestampFormat = "2006_01_02 15:04:05"

// Log is an append-only conversation log
type Log struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewLog creates a log writing to path
func NewLog(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the log file location
func (l *Log) Path() string {
	return l.path
}

// Append writes one line as "[timestamp] -- msg"
func (l *Log) Append(msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] -- %s\n", l.now().Format(TimestampFormat), msg)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write history log: %w", err)
	}
	return nil
}

// Tail returns up to n of the most recent lines, each with its newline
func (l *Log) Tail(n int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text()+"\n")
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}
	return lines, nil
}
