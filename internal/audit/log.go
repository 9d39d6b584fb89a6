// Package audit keeps a tamper-evident record of every intercepted
// validation: an append-only JSONL file where each line carries the
// SHA-256 of the line before it.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
)

// GenesisHash is the prev_hash of the first entry in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only audit log. Safe for concurrent use.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	clock    clock.Clock
	mu       sync.Mutex
}

// TimeFormat is the layout of Entry.Timestamp.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Open opens or creates a log for appending, continuing an existing chain.
// Entries without a timestamp are stamped from clk; nil means the wall clock.
func Open(path string, clk clock.Clock) (*Log, error) {
	if clk == nil {
		clk = clock.New()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		last, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			prevHash = HashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{path: path, file: file, prevHash: prevHash, clock: clk}, nil
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var last []byte
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return last, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string { return l.path }

// Record chains and appends an entry, then syncs the file.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = l.clock.Now().UTC().Format(TimeFormat)
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
