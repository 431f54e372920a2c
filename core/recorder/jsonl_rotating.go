package recorder

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingJSONLStore writes JSON lines to a size-rotated file set.
type RotatingJSONLStore struct {
	path string
	mu   sync.Mutex
	w    *lumberjack.Logger
	keys map[string]struct{}
	// torn is set after a failed write that may have left a partial line.
	torn bool
}

// NewRotatingJSONLStore creates a store rotating path after maxSize
// megabytes. Zero maxBackups and maxAge keep every rotated file; any other
// value lets lumberjack delete old files together with their records.
func NewRotatingJSONLStore(path string, maxSize, maxBackups, maxAge int) (*RotatingJSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := terminate(path); err != nil {
		return nil, err
	}
	s := &RotatingJSONLStore{
		path: path,
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		},
		keys: make(map[string]struct{}),
	}
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	if _, err := scanFiles(context.Background(), files, func(r Record) bool {
		s.keys[r.Key()] = struct{}{}
		return false
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Append writes rec unless its key is already present.
func (s *RotatingJSONLStore) Append(ctx context.Context, rec Record) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[rec.Key()]; ok {
		return ErrAlreadyRecorded
	}
	if s.torn {
		line = append([]byte{'\n'}, line...)
	}
	if _, err := s.w.Write(line); err != nil {
		s.torn = true
		return err
	}
	s.torn = false
	s.keys[rec.Key()] = struct{}{}
	return nil
}

// Exists reports whether key has been recorded.
func (s *RotatingJSONLStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

// Query reads the backups oldest first, then the active file.
func (s *RotatingJSONLStore) Query(ctx context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var res []Record
	_, err = scanFiles(ctx, files, func(r Record) bool {
		if q.Match(r) {
			res = append(res, r)
		}
		return false
	})
	return res, err
}

func (s *RotatingJSONLStore) Close() error { return s.w.Close() }

// files lists the active file and its backups. Backups are named
// <name>-<timestamp><ext> and sort before the active file.
func (s *RotatingJSONLStore) files() ([]string, error) {
	ext := filepath.Ext(s.path)
	prefix := strings.TrimSuffix(s.path, ext)
	backups, err := filepath.Glob(prefix + "-*" + ext)
	if err != nil {
		return nil, err
	}
	sort.Strings(backups)
	return append(backups, s.path), nil
}
