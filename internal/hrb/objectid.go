package hrb

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// ObjectIDSize is the number of bytes in an ObjectID (a 160-bit Blake2b digest).
const ObjectIDSize = 20

// ObjectID is the content identity of a blob: the Blake2b digest of its bytes.
// It is a value type; comparison with == compares contents.
type ObjectID [ObjectIDSize]byte

// Identity returns the ObjectID of data. Empty input is valid.
func Identity(data []byte) ObjectID {
	h := NewHasher()
	h.Write(data)
	return h.Sum()
}

// IdentityOf streams r through a Hasher and returns the resulting ObjectID
// together with the number of bytes read.
func IdentityOf(r io.Reader) (ObjectID, int64, error) {
	h := NewHasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return ObjectID{}, n, fmt.Errorf("hashing content: %w", err)
	}
	return h.Sum(), n, nil
}

// ParseObjectID parses the 40-character lowercase or uppercase hex form.
// It reports false for input of the wrong length or with non-hex characters.
func ParseObjectID(s string) (ObjectID, bool) {
	var id ObjectID
	if len(s) != hex.EncodedLen(ObjectIDSize) {
		return id, false
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ObjectID{}, false
	}
	return id, true
}

// ObjectIDFromBytes converts the raw digest form used as a backend hash field.
func ObjectIDFromBytes(b []byte) (ObjectID, bool) {
	var id ObjectID
	if len(b) != ObjectIDSize {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// String returns the lowercase hex form.
func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a copy of the raw digest.
func (id ObjectID) Bytes() []byte {
	b := make([]byte, ObjectIDSize)
	copy(b, id[:])
	return b
}

// Compare orders ObjectIDs by byte value.
func (id ObjectID) Compare(other ObjectID) int {
	return bytes.Compare(id[:], other[:])
}

func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, ok := ParseObjectID(string(text))
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidObjectID, text)
	}
	*id = parsed
	return nil
}

// Hasher computes an ObjectID incrementally. Each Hasher owns its digest
// state; construct one per blob.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a Hasher producing ObjectIDSize-byte Blake2b digests.
func NewHasher() *Hasher {
	h, err := blake2b.New(ObjectIDSize, nil)
	if err != nil {
		// Only reachable with an invalid size or an oversized key.
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	return &Hasher{h: h}
}

// Write never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the ObjectID of everything written so far.
func (h *Hasher) Sum() ObjectID {
	var id ObjectID
	copy(id[:], h.h.Sum(nil))
	return id
}
