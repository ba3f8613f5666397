// Package transport moves blob content to and from the remote store. Every
// implementation also serves the remote snapshot of a collection, so a sync
// can run without a metadata backend.
package transport

import (
	"fmt"
	"path"
	"strings"

	"hrb-go/internal/hrb"
)

// Store is a blob transport that can also list a collection.
type Store interface {
	hrb.Transport
	hrb.CollectionSource
}

// checkName rejects owner and collection names that cannot be used as a
// single path element.
func checkName(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

func checkNames(owner, coll string) error {
	if err := checkName("owner", owner); err != nil {
		return err
	}
	return checkName("collection", coll)
}

// blobKey is the slash-separated location of a blob below a store's root.
func blobKey(owner, coll string, id hrb.ObjectID) string {
	return path.Join(owner, coll, id.String())
}

func notFound(owner, coll string, id hrb.ObjectID, rendition string) error {
	return fmt.Errorf("blob %s/%s/%s (%s): %w", owner, coll, id, rendition, hrb.ErrNotFound)
}
