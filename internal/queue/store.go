package queue

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store persists a queue between sessions.
type Store interface {
	Load(ctx context.Context) (Queue, error)
	Save(ctx context.Context, q Queue) error
}

// FileStore keeps the queue as a JSON array in a single file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load возвращает пустую очередь, если файла ещё нет.
func (s *FileStore) Load(_ context.Context) (Queue, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Queue{}, nil
	}
	if err != nil {
		return Queue{}, errors.Wrap(err, "read queue file")
	}
	return Decode(b)
}

// Save пишет во временный файл и переименовывает, чтобы не оставить половину JSON.
func (s *FileStore) Save(_ context.Context, q Queue) error {
	b, err := Encode(q)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create queue dir")
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp queue file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write queue file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close queue file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "rename queue file")
	}
	return nil
}
