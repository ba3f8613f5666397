package hrb

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestIdentity(t *testing.T) {
	a := Identity([]byte("hello"))
	b := Identity([]byte("hello"))
	c := Identity([]byte("hello!"))

	if a != b {
		t.Errorf("Identity() not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Errorf("Identity() of different content collided: %s", a)
	}
	if Identity(nil).IsZero() {
		t.Error("Identity(nil) is the zero ObjectID")
	}
	if got := len(a.String()); got != 2*ObjectIDSize {
		t.Errorf("len(String()) = %d, want %d", got, 2*ObjectIDSize)
	}
}

func TestIdentityOf(t *testing.T) {
	data := bytes.Repeat([]byte("rabbit "), 10000)

	id, n, err := IdentityOf(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("IdentityOf() error = %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("IdentityOf() n = %d, want %d", n, len(data))
	}
	if id != Identity(data) {
		t.Errorf("IdentityOf() = %s, want %s", id, Identity(data))
	}

	// A reader returning one byte at a time hashes the same.
	id2, _, err := IdentityOf(iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("IdentityOf() error = %v", err)
	}
	if id2 != id {
		t.Errorf("IdentityOf() depends on read sizes: %s != %s", id2, id)
	}

	boom := errors.New("boom")
	if _, _, err := IdentityOf(iotest.ErrReader(boom)); !errors.Is(err, boom) {
		t.Errorf("IdentityOf() error = %v, want %v", err, boom)
	}
}

func TestHasher_Incremental(t *testing.T) {
	h := NewHasher()
	h.Write([]byte("hello "))
	h.Write([]byte("world"))
	if got, want := h.Sum(), Identity([]byte("hello world")); got != want {
		t.Errorf("Sum() = %s, want %s", got, want)
	}
}

func TestParseObjectID(t *testing.T) {
	id := Identity([]byte("parse me"))
	hex := id.String()

	tests := []struct {
		name   string
		input  string
		want   ObjectID
		wantOK bool
	}{
		{name: "lowercase", input: hex, want: id, wantOK: true},
		{name: "uppercase", input: strings.ToUpper(hex), want: id, wantOK: true},
		{name: "too short", input: hex[:39]},
		{name: "too long", input: hex + "0"},
		{name: "non hex", input: "zz" + hex[2:]},
		{name: "empty", input: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseObjectID(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseObjectID(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseObjectID(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestObjectIDFromBytes(t *testing.T) {
	id := Identity([]byte("raw"))

	got, ok := ObjectIDFromBytes(id.Bytes())
	if !ok || got != id {
		t.Errorf("ObjectIDFromBytes(Bytes()) = %s, %v, want %s, true", got, ok, id)
	}
	for _, n := range []int{0, 19, 21} {
		if _, ok := ObjectIDFromBytes(make([]byte, n)); ok {
			t.Errorf("ObjectIDFromBytes(%d bytes) ok = true", n)
		}
	}

	b := id.Bytes()
	b[0] ^= 0xff
	if id.Bytes()[0] == b[0] {
		t.Error("Bytes() shares memory with the ObjectID")
	}
}

func TestObjectID_Compare(t *testing.T) {
	var lo, hi ObjectID
	hi[0] = 1
	if lo.Compare(hi) >= 0 || hi.Compare(lo) <= 0 || lo.Compare(lo) != 0 {
		t.Errorf("Compare() does not order by byte value")
	}
}

func TestObjectID_Text(t *testing.T) {
	id := Identity([]byte("json"))

	data, err := json.Marshal(map[string]ObjectID{"id": id})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := `{"id":"` + id.String() + `"}`; string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var back map[string]ObjectID
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back["id"] != id {
		t.Errorf("Unmarshal() = %s, want %s", back["id"], id)
	}

	var bad ObjectID
	if err := bad.UnmarshalText([]byte("nope")); !errors.Is(err, ErrInvalidObjectID) {
		t.Errorf("UnmarshalText() error = %v, want ErrInvalidObjectID", err)
	}
}

func TestRandomizer(t *testing.T) {
	a := NewRandomizer(42)
	b := NewRandomizer(42)
	c := NewRandomizer(43)

	seen := make(map[ObjectID]bool)
	for i := 0; i < 100; i++ {
		ida, idb := a.ObjectID(), b.ObjectID()
		if ida != idb {
			t.Fatalf("equal seeds diverged at %d", i)
		}
		if seen[ida] {
			t.Fatalf("duplicate ObjectID at %d", i)
		}
		seen[ida] = true
	}
	if NewRandomizer(42).ObjectID() == c.ObjectID() {
		t.Error("different seeds produced the same first ObjectID")
	}
	for i := 0; i < 100; i++ {
		if n := a.Intn(7); n < 0 || n >= 7 {
			t.Fatalf("Intn(7) = %d", n)
		}
	}
}
