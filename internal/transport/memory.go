package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"hrb-go/internal/hrb"
)

// MemoryTransport keeps blobs and collections in memory. It behaves like a
// server: uploads are hashed and linked into their collection, and the first
// blob linked becomes the cover. It is safe for concurrent use.
type MemoryTransport struct {
	mu    sync.RWMutex
	blobs map[string][]byte          // blobKey -> content
	colls map[string]*hrb.Collection // owner/coll -> collection
}

// NewMemoryTransport creates an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		blobs: make(map[string][]byte),
		colls: make(map[string]*hrb.Collection),
	}
}

// Put stores data in the collection without any checks and returns its id.
func (m *MemoryTransport) Put(owner, coll string, entry hrb.CollEntry, data []byte) hrb.ObjectID {
	id := hrb.Identity(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.link(owner, coll, id, entry, data)
	return id
}

func (m *MemoryTransport) link(owner, coll string, id hrb.ObjectID, entry hrb.CollEntry, data []byte) {
	m.blobs[blobKey(owner, coll, id)] = data

	key := owner + "/" + coll
	c, ok := m.colls[key]
	if !ok {
		c = hrb.NewCollection(owner, coll)
		m.colls[key] = c
	}
	if _, ok := c.Cover(); !ok {
		c.SetCover(id)
	}
	c.Add(id, entry)
}

// Download writes the blob to w. Only the master rendition exists.
func (m *MemoryTransport) Download(ctx context.Context, owner, coll string, id hrb.ObjectID, rendition string, w io.Writer) error {
	if rendition != hrb.DefaultRendition {
		return notFound(owner, coll, id, rendition)
	}

	m.mu.RLock()
	data, ok := m.blobs[blobKey(owner, coll, id)]
	m.mu.RUnlock()
	if !ok {
		return notFound(owner, coll, id, rendition)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Upload stores the content and links it into the collection. The content
// must hash to id.
func (m *MemoryTransport) Upload(ctx context.Context, owner, coll string, id hrb.ObjectID, entry hrb.CollEntry, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	if got := hrb.Identity(data); got != id {
		return &hrb.IdentityMismatchError{Want: id, Got: got}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.link(owner, coll, id, entry, data)
	return nil
}

// Load returns a copy of the collection, or an empty one.
func (m *MemoryTransport) Load(ctx context.Context, owner, coll string) (*hrb.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.colls[owner+"/"+coll]; ok {
		return c.Clone(), nil
	}
	return hrb.NewCollection(owner, coll), nil
}

var _ Store = (*MemoryTransport)(nil)
