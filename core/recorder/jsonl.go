package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

const maxLine = 16 << 20

// JSONLStore stores records as JSON lines in a single file.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONLStore creates the file at path when missing.
func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

// Append writes rec as one line. Each line is emitted with a single write
// so that concurrent readers never observe a partial record. A torn last
// line is terminated first, and a failed write is truncated away.
func (s *JSONLStore) Append(ctx context.Context, rec Record) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	found, err := scanFiles(ctx, []string{s.path}, func(r Record) bool { return r.Key() == rec.Key() })
	if err != nil {
		return err
	}
	if found {
		return ErrAlreadyRecorded
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	size, torn, err := tail(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if torn {
		line = append([]byte{'\n'}, line...)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Truncate(size)
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(size)
		_ = f.Close()
		return err
	}
	return f.Close()
}

// tail returns the size of f and whether its last line lacks the newline
// terminator, as left behind by an interrupted write.
func tail(f *os.File) (int64, bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, false, err
	}
	size := fi.Size()
	if size == 0 {
		return 0, false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return size, false, err
	}
	return size, last[0] != '\n', nil
}

// terminate appends the missing newline to a torn last line of path.
func terminate(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR, 0o644)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	_, torn, err := tail(f)
	if err == nil && torn {
		_, err = f.Write([]byte{'\n'})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Exists reports whether key has been recorded.
func (s *JSONLStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scanFiles(ctx, []string{s.path}, func(r Record) bool { return r.Key() == key })
}

// Query returns the records matching q in append order.
func (s *JSONLStore) Query(ctx context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Record
	_, err := scanFiles(ctx, []string{s.path}, func(r Record) bool {
		if q.Match(r) {
			res = append(res, r)
		}
		return false
	})
	return res, err
}

func (s *JSONLStore) Close() error { return nil }

func encodeLine(rec Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.Key(), err)
	}
	return append(b, '\n'), nil
}

// scanFiles decodes every line of paths in order and stops as soon as fn
// returns true. Undecodable lines are skipped.
func scanFiles(ctx context.Context, paths []string, fn func(Record) bool) (bool, error) {
	for _, p := range paths {
		found, err := scanFile(ctx, p, fn)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

func scanFile(ctx context.Context, path string, fn func(Record) bool) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if fn(r) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
