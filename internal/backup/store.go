// Package backup implements the durable, file-based copy of every contact
// submission. Each record is written as pretty-printed JSON to its own file
// under a single directory; files are only ever created, never rewritten, so
// concurrent writers need no locking beyond exclusive file creation.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tbourn/go-venue-backend/internal/domain"
)

const (
	filePrefix = "submission-"
	fileExt    = ".json"
	// maxCollisions bounds the -<n> suffix search for same-millisecond writes.
	maxCollisions = 1000
)

// writeData is replaced in tests.
var writeData = func(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

// Store writes SubmissionRecords into Dir.
//
// The zero value is not usable; construct with New.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created lazily on the
// first Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string { return s.dir }

// Save ensures the directory exists and writes rec to a new, uniquely named
// file. It returns the path of the created file.
func (s *Store) Save(rec domain.SubmissionRecord) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create submissions dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	base := filePrefix + FileStamp(rec.SubmittedAt)
	for n := 0; n < maxCollisions; n++ {
		name := base + fileExt
		if n > 0 {
			name = base + "-" + strconv.Itoa(n) + fileExt
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create submission file: %w", err)
		}
		// A partial file would look like a saved submission to List and
		// resend, so it is removed when the write does not complete.
		if err := writeData(f, append(data, '\n')); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write submission file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close submission file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s after %d attempts", base, maxCollisions)
}

// Load reads one saved record.
func Load(path string) (domain.SubmissionRecord, error) {
	var rec domain.SubmissionRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

// List returns the paths of all saved submissions, oldest first. A missing
// directory yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// FileStamp turns an ISO-8601 timestamp into a file-name-safe token by
// replacing ':' and '.' with '-'.
func FileStamp(iso string) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}
