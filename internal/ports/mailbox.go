package ports

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NullPortData is what an empty slot peeks as.
const NullPortData = "NULL PORT DATA"

var ErrInvalidPort = errors.New("invalid port")

// Mailbox is a set of single-slot ports: Write overwrites, Peek does not
// consume, Clear empties the slot.
type Mailbox interface {
	Peek(port int) (string, error)
	Write(port int, data string) error
	Clear(port int) error
}

// IsEmpty reports whether data is the empty-slot sentinel or blank.
func IsEmpty(data string) bool {
	return data == "" || data == NullPortData
}

// FileMailbox keeps each port in its own file so separate processes can share slots.
type FileMailbox struct {
	dir string
}

func NewFileMailbox(dir string) (*FileMailbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("mailbox directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mailbox directory: %w", err)
	}
	return &FileMailbox{dir: dir}, nil
}

func (m *FileMailbox) path(port int) (string, error) {
	if port <= 0 {
		return "", fmt.Errorf("%d: %w", port, ErrInvalidPort)
	}
	return filepath.Join(m.dir, fmt.Sprintf("port-%d.txt", port)), nil
}

func (m *FileMailbox) Peek(port int) (string, error) {
	path, err := m.path(port)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NullPortData, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read port %d: %w", port, err)
	}
	if len(data) == 0 {
		return NullPortData, nil
	}
	return string(data), nil
}

// Write replaces the slot atomically: readers see the old or the new payload, never a mix.
func (m *FileMailbox) Write(port int, data string) error {
	finalPath, err := m.path(port)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.dir, filepath.Base(finalPath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return err
	}
	ok = true
	return nil
}

func (m *FileMailbox) Clear(port int) error {
	path, err := m.path(port)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear port %d: %w", port, err)
	}
	return nil
}

// MemoryMailbox is an in-process Mailbox.
type MemoryMailbox struct {
	mu    sync.RWMutex
	slots map[int]string
}

func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{slots: make(map[int]string)}
}

func (m *MemoryMailbox) Peek(port int) (string, error) {
	if port <= 0 {
		return "", fmt.Errorf("%d: %w", port, ErrInvalidPort)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.slots[port]
	if !ok || data == "" {
		return NullPortData, nil
	}
	return data, nil
}

func (m *MemoryMailbox) Write(port int, data string) error {
	if port <= 0 {
		return fmt.Errorf("%d: %w", port, ErrInvalidPort)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[port] = data
	return nil
}

func (m *MemoryMailbox) Clear(port int) error {
	if port <= 0 {
		return fmt.Errorf("%d: %w", port, ErrInvalidPort)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, port)
	return nil
}

// Replace clears port and writes data, the way every writer publishes.
func Replace(m Mailbox, port int, data string) error {
	if err := m.Clear(port); err != nil {
		return err
	}
	return m.Write(port, strings.TrimSpace(data))
}
