package hrb

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Timestamp is a point in time with millisecond resolution, stored as
// milliseconds since the Unix epoch. Its JSON form is the bare integer.
type Timestamp int64

// TimestampOf truncates t to millisecond resolution.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts back to a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

// CollEntry is the metadata a collection keeps for one blob.
type CollEntry struct {
	Filename  string     `json:"filename"`
	Mime      string     `json:"mime"`
	Timestamp Timestamp  `json:"timestamp"`
	Perm      Permission `json:"perm"`
}

// Field numbers of the backend entry encoding.
const (
	entryFieldFilename  protowire.Number = 1
	entryFieldMime      protowire.Number = 2
	entryFieldTimestamp protowire.Number = 3
)

// MarshalBackend returns the compact form stored in the backend: the
// permission character followed by protobuf-wire fields. Zero-valued
// fields are omitted.
func (e CollEntry) MarshalBackend() []byte {
	perm := e.Perm
	if _, ok := PermissionFromChar(byte(perm)); !ok {
		perm = Private
	}

	b := make([]byte, 0, 1+len(e.Filename)+len(e.Mime)+16)
	b = append(b, perm.Char())
	if e.Filename != "" {
		b = protowire.AppendTag(b, entryFieldFilename, protowire.BytesType)
		b = protowire.AppendString(b, e.Filename)
	}
	if e.Mime != "" {
		b = protowire.AppendTag(b, entryFieldMime, protowire.BytesType)
		b = protowire.AppendString(b, e.Mime)
	}
	if e.Timestamp != 0 {
		b = protowire.AppendTag(b, entryFieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Timestamp)))
	}
	return b
}

// legacyEntry is the older backend payload: permission character followed
// by compact JSON.
type legacyEntry struct {
	Mime      string    `json:"mime"`
	Timestamp Timestamp `json:"timestamp"`
	Filename  string    `json:"filename,omitempty"`
}

// UnmarshalBackendEntry decodes either backend form of a CollEntry. An
// unknown permission character decodes as Private.
func UnmarshalBackendEntry(b []byte) (CollEntry, error) {
	if len(b) == 0 {
		return CollEntry{}, fmt.Errorf("%w: empty", ErrInvalidEntry)
	}
	perm, _ := PermissionFromChar(b[0])
	entry := CollEntry{Perm: perm}

	rest := b[1:]
	if len(rest) > 0 && rest[0] == '{' {
		var legacy legacyEntry
		if err := json.Unmarshal(rest, &legacy); err != nil {
			return CollEntry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		entry.Filename = legacy.Filename
		entry.Mime = legacy.Mime
		entry.Timestamp = legacy.Timestamp
		return entry, nil
	}

	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return CollEntry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, protowire.ParseError(n))
		}
		rest = rest[n:]

		switch {
		case num == entryFieldFilename && typ == protowire.BytesType:
			entry.Filename, n = protowire.ConsumeString(rest)
		case num == entryFieldMime && typ == protowire.BytesType:
			entry.Mime, n = protowire.ConsumeString(rest)
		case num == entryFieldTimestamp && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(rest)
			entry.Timestamp = Timestamp(protowire.DecodeZigZag(v))
		default:
			n = protowire.ConsumeFieldValue(num, typ, rest)
		}
		if n < 0 {
			return CollEntry{}, fmt.Errorf("%w: field %d: %v", ErrInvalidEntry, num, protowire.ParseError(n))
		}
		rest = rest[n:]
	}
	return entry, nil
}
