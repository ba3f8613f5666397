package fs

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// tempPrefix names in-progress files. Scans never report them.
const tempPrefix = ".hrb-tmp-"

// StagedFile is a temporary file that becomes visible only on Commit.
type StagedFile struct {
	afs  afero.Fs
	file afero.File
	done bool
}

// Stage creates a temporary file in dir. The caller must call Commit or
// Discard.
func Stage(afs afero.Fs, dir string) (*StagedFile, error) {
	if err := afs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := afero.TempFile(afs, dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &StagedFile{afs: afs, file: f}, nil
}

func (s *StagedFile) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Commit closes the file and renames it to dest, which must be in the same
// directory tree as the staging directory.
func (s *StagedFile) Commit(dest string) error {
	if s.done {
		return fmt.Errorf("staged file already finished")
	}
	s.done = true

	tmpPath := s.file.Name()
	if err := s.file.Close(); err != nil {
		s.afs.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := s.afs.Rename(tmpPath, dest); err != nil {
		s.afs.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Discard removes the temporary file. It is a no-op after Commit.
func (s *StagedFile) Discard() {
	if s.done {
		return
	}
	s.done = true
	s.file.Close()
	s.afs.Remove(s.file.Name())
}

// WriteFile copies exactly size bytes from r to path through a staged file.
// path is left untouched on any error.
func WriteFile(afs afero.Fs, path string, r io.Reader, size int64) error {
	staged, err := Stage(afs, filepath.Dir(path))
	if err != nil {
		return err
	}
	defer staged.Discard()

	written, err := io.Copy(staged, r)
	if err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	return staged.Commit(path)
}
