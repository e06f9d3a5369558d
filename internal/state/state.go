package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/peterbourgon/diskv"
	"go.uber.org/zap"
)

const (
	_lastEmojiKey = "last_emoji"
	_cacheSize    = 1024
)

// DiskStore persists daemon state as small files under a directory
type DiskStore struct {
	logger *zap.Logger
	disk   *diskv.Diskv
}

// NewDiskStore creates a store rooted at dir, creating it if needed
func NewDiskStore(logger *zap.Logger, dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
	}

	d := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: _cacheSize,
	})

	logger.Debug("State store ready", zap.String("dir", dir))
	return &DiskStore{logger: logger, disk: d}, nil
}

// LastEmoji returns the persisted emoji, if any
func (s *DiskStore) LastEmoji() (string, bool) {
	if !s.disk.Has(_lastEmojiKey) {
		return "", false
	}
	data, err := s.disk.Read(_lastEmojiKey)
	if err != nil {
		s.logger.Warn("Failed to read state", zap.String("key", _lastEmojiKey), zap.Error(err))
		return "", false
	}
	if len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// SaveLastEmoji persists emoji
func (s *DiskStore) SaveLastEmoji(emoji string) error {
	if err := s.disk.Write(_lastEmojiKey, []byte(emoji)); err != nil {
		return fmt.Errorf("failed to write %s: %w", _lastEmojiKey, err)
	}
	return nil
}

// ClearLastEmoji removes the persisted emoji
func (s *DiskStore) ClearLastEmoji() error {
	if err := s.disk.Erase(_lastEmojiKey); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to erase %s: %w", _lastEmojiKey, err)
	}
	return nil
}

// MemoryStore keeps state for the lifetime of the process only
type MemoryStore struct {
	mu    sync.Mutex
	emoji string
	ok    bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LastEmoji() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emoji, s.ok
}

func (s *MemoryStore) SaveLastEmoji(emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emoji, s.ok = emoji, true
	return nil
}

func (s *MemoryStore) ClearLastEmoji() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emoji, s.ok = "", false
	return nil
}
