package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore keeps the whole document tree in one JSON file, one entry per
// path. Subscribers are notified in-process, on the writer's goroutine, after
// the file has been replaced, in the order the writes landed. Callbacks must
// not call back into the store.
type JSONStore struct {
	mu       sync.RWMutex
	filePath string

	// notifyMu is taken before mu is released so deliveries follow write order.
	notifyMu sync.Mutex

	subMu  sync.Mutex
	nextID int
	subs   map[string]map[int]func(Snapshot)
}

// NewJSONStore creates a new JSON store at the specified path
func NewJSONStore(dataDir, filename string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	return &JSONStore{
		filePath: filepath.Join(dataDir, filename),
		subs:     make(map[string]map[int]func(Snapshot)),
	}, nil
}

func (s *JSONStore) Read(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.load()
	if err != nil {
		return nil, err
	}
	return jsonSnapshot(docs[path]), nil
}

func (s *JSONStore) Write(ctx context.Context, path string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}

	s.mu.Lock()
	docs, err := s.load()
	if err == nil {
		if isEmptyJSON(raw) {
			delete(docs, path)
		} else {
			docs[path] = raw
		}
		err = s.save(docs)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.notify(path, jsonSnapshot(raw))
	return nil
}

func (s *JSONStore) Subscribe(ctx context.Context, path string, onChange func(Snapshot)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Registering under the read lock means no write can land between the
	// initial snapshot and the first notification.
	s.mu.RLock()
	docs, err := s.load()
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]func(Snapshot))
	}
	s.subs[path][id] = onChange
	s.subMu.Unlock()
	s.notifyMu.Lock()
	s.mu.RUnlock()

	onChange(jsonSnapshot(docs[path]))
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs[path], id)
			if len(s.subs[path]) == 0 {
				delete(s.subs, path)
			}
		})
	}, nil
}

func (s *JSONStore) notify(path string, snap Snapshot) {
	s.subMu.Lock()
	listeners := make([]func(Snapshot), 0, len(s.subs[path]))
	for _, fn := range s.subs[path] {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// load reads the tree. Callers hold s.mu.
func (s *JSONStore) load() (map[string]json.RawMessage, error) {
	docs := make(map[string]json.RawMessage)

	file, err := os.Open(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return docs, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.filePath, err)
	}
	return docs, nil
}

// save writes to a temp file and renames it over the tree. Callers hold s.mu.
func (s *JSONStore) save(docs map[string]json.RawMessage) error {
	tempFile := s.filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(docs); err != nil {
		file.Close()
		os.Remove(tempFile)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, s.filePath)
}
