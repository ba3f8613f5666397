package transport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"hrb-go/internal/hrb"
)

// storeFactories builds every Store that can run without a network.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryTransport() },
		"filesystem": func() Store {
			s, err := NewFileSystemTransport(afero.NewMemMapFs(), "/blobs")
			if err != nil {
				t.Fatalf("NewFileSystemTransport() error = %v", err)
			}
			return s
		},
		"s3": func() Store {
			fake := newFakeS3()
			return newS3Transport(fake, fake, "photos", "hrb")
		},
	}
}

func TestStore_UploadDownloadLoad(t *testing.T) {
	ctx := context.Background()
	content := []byte("a picture of a rabbit")
	id := hrb.Identity(content)
	entry := hrb.CollEntry{Filename: "rabbit.jpg", Mime: "image/jpeg", Timestamp: 1700000000000, Perm: hrb.Shared}

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()

			if err := s.Upload(ctx, "sumsum", "pets", id, entry, bytes.NewReader(content), int64(len(content))); err != nil {
				t.Fatalf("Upload() error = %v", err)
			}

			var buf bytes.Buffer
			if err := s.Download(ctx, "sumsum", "pets", id, hrb.DefaultRendition, &buf); err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			if !bytes.Equal(buf.Bytes(), content) {
				t.Errorf("Download() = %q, want %q", buf.Bytes(), content)
			}

			coll, err := s.Load(ctx, "sumsum", "pets")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			got, ok := coll.Get(id)
			if !ok {
				t.Fatalf("Load() missing %s", id)
			}
			if got != entry {
				t.Errorf("Load() entry = %+v, want %+v", got, entry)
			}
			if coll.Owner() != "sumsum" || coll.Name() != "pets" {
				t.Errorf("Load() collection = %s/%s, want sumsum/pets", coll.Owner(), coll.Name())
			}
		})
	}
}

func TestStore_UploadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	content := []byte("same bytes")
	id := hrb.Identity(content)

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			for i := 0; i < 2; i++ {
				entry := hrb.CollEntry{Filename: "v.txt", Timestamp: hrb.Timestamp(i + 1)}
				if err := s.Upload(ctx, "u", "c", id, entry, bytes.NewReader(content), int64(len(content))); err != nil {
					t.Fatalf("Upload() #%d error = %v", i, err)
				}
			}

			coll, err := s.Load(ctx, "u", "c")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if coll.Len() != 1 {
				t.Errorf("Load() has %d entries, want 1", coll.Len())
			}
			if e, _ := coll.Get(id); e.Timestamp != 2 {
				t.Errorf("entry timestamp = %d, want the latest upload's", e.Timestamp)
			}
		})
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	content := []byte("content")
	id := hrb.Identity(content)

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()

			var buf bytes.Buffer
			if err := s.Download(ctx, "u", "c", id, hrb.DefaultRendition, &buf); !errors.Is(err, hrb.ErrNotFound) {
				t.Errorf("Download() of missing blob error = %v, want ErrNotFound", err)
			}

			if err := s.Upload(ctx, "u", "c", id, hrb.CollEntry{}, strings.NewReader("content"), 100); err == nil {
				t.Error("Upload() expected size mismatch error")
			}

			var mismatch *hrb.IdentityMismatchError
			err := s.Upload(ctx, "u", "c", id, hrb.CollEntry{}, strings.NewReader("CONTENT"), 7)
			if !errors.As(err, &mismatch) {
				t.Errorf("Upload() of wrong content error = %v, want IdentityMismatchError", err)
			}

			if err := s.Download(ctx, "u", "c", id, hrb.DefaultRendition, &buf); !errors.Is(err, hrb.ErrNotFound) {
				t.Errorf("failed uploads stored content: Download() error = %v", err)
			}

			if err := s.Upload(ctx, "u", "c", id, hrb.CollEntry{}, bytes.NewReader(content), 7); err != nil {
				t.Fatalf("Upload() error = %v", err)
			}
			if err := s.Download(ctx, "u", "c", id, "thumbnail", &buf); !errors.Is(err, hrb.ErrNotFound) {
				t.Errorf("Download() of other rendition error = %v, want ErrNotFound", err)
			}

			empty, err := s.Load(ctx, "u", "other")
			if err != nil {
				t.Fatalf("Load() of unknown collection error = %v", err)
			}
			if empty.Len() != 0 {
				t.Errorf("Load() of unknown collection has %d entries", empty.Len())
			}
		})
	}
}

func TestCheckNames(t *testing.T) {
	tests := []struct {
		owner, coll string
		wantErr     bool
	}{
		{"sumsum", "holiday", false},
		{"sumsum", "", true},
		{"", "holiday", true},
		{"..", "holiday", true},
		{"sumsum", "a/b", true},
		{"sumsum", `a\b`, true},
	}
	for _, tt := range tests {
		if err := checkNames(tt.owner, tt.coll); (err != nil) != tt.wantErr {
			t.Errorf("checkNames(%q, %q) error = %v, wantErr %v", tt.owner, tt.coll, err, tt.wantErr)
		}
	}
}

func TestMemoryTransport_Cover(t *testing.T) {
	m := NewMemoryTransport()
	first := m.Put("u", "c", hrb.CollEntry{Filename: "1"}, []byte("one"))
	m.Put("u", "c", hrb.CollEntry{Filename: "2"}, []byte("two"))

	coll, err := m.Load(context.Background(), "u", "c")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cover, ok := coll.Cover(); !ok || cover != first {
		t.Errorf("Cover() = %v, %v, want %v", cover, ok, first)
	}

	coll.Remove(first)
	again, _ := m.Load(context.Background(), "u", "c")
	if !again.Has(first) {
		t.Error("Load() returned the stored collection instead of a copy")
	}
}
