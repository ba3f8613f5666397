package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"hrb-go/internal/fs"
	"hrb-go/internal/hrb"
)

// entrySuffix marks the sidecar file holding a blob's CollEntry.
const entrySuffix = ".json"

// FileSystemTransport stores blobs in a directory tree, typically a mounted
// share:
//
//	<root>/
//	  <owner>/
//	    <coll>/
//	      <hex>         (content, master rendition)
//	      <hex>.json    (CollEntry)
//
// Collections served by it never have a cover.
type FileSystemTransport struct {
	afs  afero.Fs
	root string
}

// NewFileSystemTransport creates a transport rooted at root on afs.
func NewFileSystemTransport(afs afero.Fs, root string) (*FileSystemTransport, error) {
	if err := afs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transport root: %w", err)
	}
	return &FileSystemTransport{afs: afs, root: root}, nil
}

func (t *FileSystemTransport) collDir(owner, coll string) string {
	return filepath.Join(t.root, owner, coll)
}

func (t *FileSystemTransport) blobPath(owner, coll string, id hrb.ObjectID) string {
	return filepath.Join(t.root, filepath.FromSlash(blobKey(owner, coll, id)))
}

// Download writes the blob to w. Only the master rendition is stored.
func (t *FileSystemTransport) Download(ctx context.Context, owner, coll string, id hrb.ObjectID, rendition string, w io.Writer) error {
	if err := checkNames(owner, coll); err != nil {
		return err
	}
	if rendition != hrb.DefaultRendition {
		return notFound(owner, coll, id, rendition)
	}

	f, err := t.afs.Open(t.blobPath(owner, coll, id))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(owner, coll, id, rendition)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

// Upload stores the content and its entry. Storing a blob that already
// exists only rewrites the entry.
func (t *FileSystemTransport) Upload(ctx context.Context, owner, coll string, id hrb.ObjectID, entry hrb.CollEntry, r io.Reader, size int64) error {
	if err := checkNames(owner, coll); err != nil {
		return err
	}

	dest := t.blobPath(owner, coll, id)
	exists, err := afero.Exists(t.afs, dest)
	if err != nil {
		return fmt.Errorf("checking blob: %w", err)
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
	} else if err := t.writeBlob(dest, id, r, size); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	return fs.WriteFile(t.afs, dest+entrySuffix, bytes.NewReader(data), int64(len(data)))
}

func (t *FileSystemTransport) writeBlob(dest string, id hrb.ObjectID, r io.Reader, size int64) error {
	staged, err := fs.Stage(t.afs, filepath.Dir(dest))
	if err != nil {
		return err
	}
	defer staged.Discard()

	h := hrb.NewHasher()
	written, err := io.Copy(io.MultiWriter(staged, h), r)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if got := h.Sum(); got != id {
		return &hrb.IdentityMismatchError{Want: id, Got: got}
	}
	return staged.Commit(dest)
}

// Load reads every entry file of the collection. A missing directory is an
// empty collection.
func (t *FileSystemTransport) Load(ctx context.Context, owner, coll string) (*hrb.Collection, error) {
	if err := checkNames(owner, coll); err != nil {
		return nil, err
	}

	c := hrb.NewCollection(owner, coll)
	dir := t.collDir(owner, coll)
	infos, err := afero.ReadDir(t.afs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading collection directory: %w", err)
	}

	for _, info := range infos {
		hex, ok := strings.CutSuffix(info.Name(), entrySuffix)
		if !ok || info.IsDir() {
			continue
		}
		id, ok := hrb.ParseObjectID(hex)
		if !ok {
			continue
		}

		data, err := afero.ReadFile(t.afs, filepath.Join(dir, info.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading entry %s: %w", hex, err)
		}
		var entry hrb.CollEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("decoding entry %s: %w", hex, err)
		}
		c.Add(id, entry)
	}
	return c, nil
}

var _ Store = (*FileSystemTransport)(nil)
