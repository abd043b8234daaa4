package sessioncodec

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"

	"graphauth/go-backend/internal/securestore"
)

var ErrNoSession = errors.New("no persisted session")

// Storage holds the single persisted envelope.
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Clear() error
}

type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil, ErrNoSession
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryStorage) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// FileStorage keeps the envelope in one file, encrypted at rest when a
// passphrase is configured.
type FileStorage struct {
	path       string
	passphrase string
	sealer     *securestore.Sealer
}

func NewFileStorage(path, passphrase string, sealer *securestore.Sealer) *FileStorage {
	if sealer == nil {
		sealer = securestore.NewSealer(securestore.DefaultKDFParams())
	}
	return &FileStorage{
		path:       strings.TrimSpace(path),
		passphrase: strings.TrimSpace(passphrase),
		sealer:     sealer,
	}
}

func (f *FileStorage) Path() string {
	return f.path
}

func (f *FileStorage) Load() ([]byte, error) {
	data, err := f.sealer.ReadFile(f.path, f.passphrase)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoSession
	}
	return data, nil
}

func (f *FileStorage) Save(data []byte) error {
	return f.sealer.WriteFile(f.path, f.passphrase, data)
}

func (f *FileStorage) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
