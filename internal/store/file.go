package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Inline data-URI images can run well past bufio's default token size.
const maxHistoryLine = 16 * 1024 * 1024

// FileStore appends messages as JSON lines to a flat history file, one record
// per line in arrival order. A single process-wide writer lock serializes
// appends; no multi-process coordination is provided.
type FileStore struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	closed bool
}

// OpenFileStore opens or creates the history file at path.
func OpenFileStore(path string) (*FileStore, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file %s: %w", path, err)
	}
	return &FileStore{path: path, file: file}, nil
}

func (s *FileStore) Append(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(stampTime(msg))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to history file: %w", err)
	}
	return s.file.Sync()
}

func (s *FileStore) RecentHistory(ctx context.Context, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	defer file.Close()

	var msgs []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHistoryLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("decode history line: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history file: %w", err)
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *FileStore) PurgeAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate history file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
