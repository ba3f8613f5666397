package hrb

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
)

// Collection is a named set of blobs owned by one user. Each ObjectID maps to
// exactly one CollEntry. The cover, if set, is expected to name one of the
// entries but this is not enforced.
//
// A Collection is not safe for concurrent mutation. Once handed to Compare
// or to a SyncService it must be treated as read-only.
type Collection struct {
	owner    string
	name     string
	cover    ObjectID
	hasCover bool
	entries  map[ObjectID]CollEntry
}

// NewCollection creates an empty collection.
func NewCollection(owner, name string) *Collection {
	return &Collection{
		owner:   owner,
		name:    name,
		entries: make(map[ObjectID]CollEntry),
	}
}

func (c *Collection) Owner() string { return c.owner }
func (c *Collection) Name() string  { return c.name }

// Cover returns the cover blob, if one is set.
func (c *Collection) Cover() (ObjectID, bool) {
	return c.cover, c.hasCover
}

func (c *Collection) SetCover(id ObjectID) {
	c.cover = id
	c.hasCover = true
}

func (c *Collection) ClearCover() {
	c.cover = ObjectID{}
	c.hasCover = false
}

// Add stores entry under id, replacing any previous entry.
func (c *Collection) Add(id ObjectID, entry CollEntry) {
	c.entries[id] = entry
}

// Remove deletes the entry for id. Removing an absent id does nothing.
func (c *Collection) Remove(id ObjectID) {
	delete(c.entries, id)
}

func (c *Collection) Get(id ObjectID) (CollEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

func (c *Collection) Has(id ObjectID) bool {
	_, ok := c.entries[id]
	return ok
}

func (c *Collection) Len() int {
	return len(c.entries)
}

// All yields every (ObjectID, CollEntry) pair in unspecified order.
// The sequence may be ranged over any number of times.
func (c *Collection) All() iter.Seq2[ObjectID, CollEntry] {
	return func(yield func(ObjectID, CollEntry) bool) {
		for id, e := range c.entries {
			if !yield(id, e) {
				return
			}
		}
	}
}

// IDs returns the entry keys sorted by byte value.
func (c *Collection) IDs() []ObjectID {
	ids := slices.Collect(maps.Keys(c.entries))
	slices.SortFunc(ids, ObjectID.Compare)
	return ids
}

// Clone returns an independent copy.
func (c *Collection) Clone() *Collection {
	return &Collection{
		owner:    c.owner,
		name:     c.name,
		cover:    c.cover,
		hasCover: c.hasCover,
		entries:  maps.Clone(c.entries),
	}
}

// collectionJSON is the wire shape of the human-readable form.
type collectionJSON struct {
	Owner    string               `json:"owner"`
	Name     string               `json:"name"`
	Cover    string               `json:"cover,omitempty"`
	Elements map[string]CollEntry `json:"elements"`
}

func (c *Collection) MarshalJSON() ([]byte, error) {
	out := collectionJSON{
		Owner:    c.owner,
		Name:     c.name,
		Elements: make(map[string]CollEntry, len(c.entries)),
	}
	if c.hasCover {
		out.Cover = c.cover.String()
	}
	for id, e := range c.entries {
		out.Elements[id.String()] = e
	}
	return json.Marshal(out)
}

func (c *Collection) UnmarshalJSON(data []byte) error {
	var in collectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCollection, err)
	}

	decoded := NewCollection(in.Owner, in.Name)
	if in.Cover != "" {
		cover, ok := ParseObjectID(in.Cover)
		if !ok {
			return fmt.Errorf("%w: cover %q: %v", ErrInvalidCollection, in.Cover, ErrInvalidObjectID)
		}
		decoded.SetCover(cover)
	}
	for key, e := range in.Elements {
		id, ok := ParseObjectID(key)
		if !ok {
			return fmt.Errorf("%w: element %q: %v", ErrInvalidCollection, key, ErrInvalidObjectID)
		}
		decoded.Add(id, e)
	}

	*c = *decoded
	return nil
}

// ParseCollectionJSON decodes the human-readable form.
func ParseCollectionJSON(data []byte) (*Collection, error) {
	c := &Collection{}
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return c, nil
}

// BackendRecord is the persisted form of a collection: one field per entry
// keyed by the raw ObjectID bytes, plus a small JSON metadata blob holding
// the cover.
type BackendRecord struct {
	Entries map[string][]byte
	Meta    []byte
}

type collectionMeta struct {
	Cover string `json:"cover,omitempty"`
}

// EncodeBackend converts c into its persisted form.
func (c *Collection) EncodeBackend() BackendRecord {
	rec := BackendRecord{Entries: make(map[string][]byte, len(c.entries))}
	for id, e := range c.entries {
		rec.Entries[string(id[:])] = e.MarshalBackend()
	}
	rec.Meta = c.encodeMeta()
	return rec
}

func (c *Collection) encodeMeta() []byte {
	var meta collectionMeta
	if c.hasCover {
		meta.Cover = c.cover.String()
	}
	// Marshalling a struct of strings cannot fail.
	b, _ := json.Marshal(meta)
	return b
}

// DecodeBackend rebuilds a collection from its persisted form. A nil or
// empty Meta means no cover.
func DecodeBackend(owner, name string, rec BackendRecord) (*Collection, error) {
	c := NewCollection(owner, name)
	if len(rec.Meta) > 0 {
		var meta collectionMeta
		if err := json.Unmarshal(rec.Meta, &meta); err != nil {
			return nil, fmt.Errorf("%w: meta: %v", ErrInvalidCollection, err)
		}
		if meta.Cover != "" {
			cover, ok := ParseObjectID(meta.Cover)
			if !ok {
				return nil, fmt.Errorf("%w: cover %q: %v", ErrInvalidCollection, meta.Cover, ErrInvalidObjectID)
			}
			c.SetCover(cover)
		}
	}
	for field, value := range rec.Entries {
		id, ok := ObjectIDFromBytes([]byte(field))
		if !ok {
			return nil, fmt.Errorf("%w: field of %d bytes: %v", ErrInvalidCollection, len(field), ErrInvalidObjectID)
		}
		e, err := UnmarshalBackendEntry(value)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", ErrInvalidCollection, id, err)
		}
		c.Add(id, e)
	}
	return c, nil
}
