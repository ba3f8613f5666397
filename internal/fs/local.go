// Package fs implements the local side of a sync: scanning a directory into
// a collection snapshot and materializing downloaded blobs in it.
package fs

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"hrb-go/internal/hrb"
)

// sniffLen is how much of a file is read for MIME detection.
const sniffLen = 3072

// maxNameAttempts bounds the search for a free file name.
const maxNameAttempts = 1000

// LocalStore treats a flat directory as a collection: each regular file is
// one blob. Subdirectories are not descended into.
type LocalStore struct {
	afs     afero.Fs
	ignores []string
	logger  hrb.Logger

	// mu serializes choosing a destination name with the rename onto it.
	mu sync.Mutex
}

// NewLocalStore creates a LocalStore on afs. ignores are added to the
// built-in patterns and each directory's .hrbignore.
func NewLocalStore(afs afero.Fs, ignores []string, logger hrb.Logger) *LocalStore {
	return &LocalStore{afs: afs, ignores: ignores, logger: logger}
}

// NewOSLocalStore creates a LocalStore on the real filesystem.
func NewOSLocalStore(ignores []string, logger hrb.Logger) *LocalStore {
	return NewLocalStore(afero.NewOsFs(), ignores, logger)
}

func (l *LocalStore) matcher(dir string) (*IgnoreMatcher, error) {
	extra, err := readIgnoreFile(l.afs, dir)
	if err != nil {
		return nil, err
	}
	patterns := append(append(append([]string{}, builtinIgnores...), l.ignores...), extra...)
	return NewIgnoreMatcher(patterns), nil
}

// Scan hashes every regular, non-ignored file in dir. Entries are private
// and stamped with the file's modification time. When two files have the
// same content, the one sorting last by name wins.
func (l *LocalStore) Scan(dir, owner, coll string) (*hrb.Collection, error) {
	ignore, err := l.matcher(dir)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(l.afs, dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	c := hrb.NewCollection(owner, coll)
	for _, info := range infos {
		if !info.Mode().IsRegular() || ignore.Match(info.Name()) {
			continue
		}

		id, mime, err := l.identify(filepath.Join(dir, info.Name()))
		if err != nil {
			return nil, err
		}
		if prev, ok := c.Get(id); ok {
			l.logger.Debug("duplicate content in directory", "id", id.String(), "first", prev.Filename, "second", info.Name())
		}
		c.Add(id, hrb.CollEntry{
			Filename:  info.Name(),
			Mime:      mime,
			Timestamp: hrb.TimestampOf(info.ModTime()),
			Perm:      hrb.Private,
		})
	}

	l.logger.Debug("directory scanned", "dir", dir, "blobs", c.Len())
	return c, nil
}

// identify hashes the file at path and sniffs its MIME type in one pass.
func (l *LocalStore) identify(path string) (hrb.ObjectID, string, error) {
	f, err := l.afs.Open(path)
	if err != nil {
		return hrb.ObjectID{}, "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return hrb.ObjectID{}, "", fmt.Errorf("reading %s: %w", path, err)
	}
	head = head[:n]

	h := hrb.NewHasher()
	h.Write(head)
	if _, err := io.Copy(h, f); err != nil {
		return hrb.ObjectID{}, "", fmt.Errorf("reading %s: %w", path, err)
	}
	return h.Sum(), mimetype.Detect(head).String(), nil
}

// Open opens dir/name for reading and returns its size.
func (l *LocalStore) Open(dir, name string) (io.ReadCloser, int64, error) {
	path := filepath.Join(dir, name)
	f, err := l.afs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}

// Write stages the content fill produces, checks its identity when f.ID is
// set, and renames it into f.Dir under f.Name. An existing file is never
// replaced; the name gets a " (n)" suffix instead. The modification time is
// set to f.Timestamp.
func (l *LocalStore) Write(f hrb.LocalFile, fill func(io.Writer) error) (string, error) {
	name, err := safeName(f)
	if err != nil {
		return "", err
	}

	staged, err := Stage(l.afs, f.Dir)
	if err != nil {
		return "", err
	}
	defer staged.Discard()

	h := hrb.NewHasher()
	if err := fill(io.MultiWriter(staged, h)); err != nil {
		return "", err
	}
	if !f.ID.IsZero() {
		if got := h.Sum(); got != f.ID {
			return "", &hrb.IdentityMismatchError{Want: f.ID, Got: got}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dest, err := l.freePath(f.Dir, name)
	if err != nil {
		return "", err
	}
	if err := staged.Commit(dest); err != nil {
		return "", err
	}
	if f.Timestamp != 0 {
		t := f.Timestamp.Time()
		if err := l.afs.Chtimes(dest, t, t); err != nil {
			l.logger.Warn("setting modification time failed", "path", dest, "error", err)
		}
	}
	return dest, nil
}

// safeName reduces a remote filename to a single path element.
func safeName(f hrb.LocalFile) (string, error) {
	name := filepath.Base(filepath.FromSlash(strings.ReplaceAll(f.Name, "\\", "/")))
	switch {
	case name == "." || name == ".." || name == string(filepath.Separator) || name == "":
		if f.ID.IsZero() {
			return "", fmt.Errorf("unusable file name %q", f.Name)
		}
		return f.ID.String(), nil
	case strings.HasPrefix(name, tempPrefix):
		return "_" + name, nil
	default:
		return name, nil
	}
}

// freePath returns dir/name, or the first dir/"base (n)ext" that does not
// exist yet.
func (l *LocalStore) freePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; i <= maxNameAttempts; i++ {
		exists, err := afero.Exists(l.afs, candidate)
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}

var _ hrb.LocalStore = (*LocalStore)(nil)
