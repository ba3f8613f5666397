package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"hrb-go/internal/hrb"
)

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// fakeS3 implements s3API and uploaderAPI over a map. Listing returns pages
// of pageSize keys.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject // bucket/key -> object
	pageSize int
	listErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject), pageSize: 1000}
}

func (f *fakeS3) get(bucket, key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[bucket+"/"+key]
	return o, ok
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	o, ok := f.get(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	o, ok := f.get(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentType: aws.String(o.contentType),
		Metadata:    o.metadata,
	}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	f.mu.Lock()
	keys := slices.Sorted(maps.Keys(f.objects))
	f.mu.Unlock()

	bucket := aws.ToString(in.Bucket) + "/"
	prefix := aws.ToString(in.Prefix)
	after := aws.ToString(in.ContinuationToken)

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		key, ok := strings.CutPrefix(k, bucket)
		if !ok || !strings.HasPrefix(key, prefix) || key <= after {
			continue
		}
		if len(out.Contents) == f.pageSize {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = out.Contents[len(out.Contents)-1].Key
			break
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeS3) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
	}
	return &manager.UploadOutput{Key: in.Key}, nil
}

func TestS3Transport_Layout(t *testing.T) {
	fake := newFakeS3()
	s := newS3Transport(fake, fake, "photos", "/hrb/")
	content := []byte("jpeg bytes")
	id := hrb.Identity(content)
	entry := hrb.CollEntry{Filename: "cat.jpg", Mime: "image/jpeg", Timestamp: 5}

	if err := s.Upload(context.Background(), "sumsum", "pets", id, entry, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	o, ok := fake.get("photos", "hrb/sumsum/pets/"+id.String())
	if !ok {
		t.Fatalf("object not stored under hrb/sumsum/pets/%s", id)
	}
	if o.contentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", o.contentType)
	}
	raw, err := base64.StdEncoding.DecodeString(o.metadata[entryMetadataKey])
	if err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}
	if !bytes.Equal(raw, entry.MarshalBackend()) {
		t.Errorf("metadata = %x, want %x", raw, entry.MarshalBackend())
	}
}

func TestS3Transport_LoadPaginates(t *testing.T) {
	fake := newFakeS3()
	fake.pageSize = 2
	s := newS3Transport(fake, fake, "photos", "")
	ctx := context.Background()

	want := make(map[hrb.ObjectID]bool)
	for i := 0; i < 5; i++ {
		content := []byte{byte(i)}
		id := hrb.Identity(content)
		want[id] = true
		if err := s.Upload(ctx, "u", "c", id, hrb.CollEntry{}, bytes.NewReader(content), 1); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
	}
	// Same prefix, different collection.
	other := []byte("elsewhere")
	if err := s.Upload(ctx, "u", "c2", hrb.Identity(other), hrb.CollEntry{}, bytes.NewReader(other), int64(len(other))); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	// Not a blob key.
	fake.objects["photos/u/c/README"] = fakeObject{}

	coll, err := s.Load(ctx, "u", "c")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if coll.Len() != len(want) {
		t.Fatalf("Load() found %d blobs, want %d", coll.Len(), len(want))
	}
	for id := range want {
		if !coll.Has(id) {
			t.Errorf("Load() missing %s", id)
		}
	}
}

func TestS3Transport_LoadWithoutMetadata(t *testing.T) {
	fake := newFakeS3()
	id := hrb.Identity([]byte("x"))
	fake.objects["photos/u/c/"+id.String()] = fakeObject{data: []byte("x"), contentType: "text/plain"}
	s := newS3Transport(fake, fake, "photos", "")

	coll, err := s.Load(context.Background(), "u", "c")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if e, _ := coll.Get(id); e.Mime != "text/plain" {
		t.Errorf("entry Mime = %q, want the content type", e.Mime)
	}
}

func TestS3Transport_LoadError(t *testing.T) {
	fake := newFakeS3()
	fake.listErr = errors.New("access denied")
	s := newS3Transport(fake, fake, "photos", "")

	if _, err := s.Load(context.Background(), "u", "c"); err == nil {
		t.Fatal("Load() expected error")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&types.NoSuchKey{}) {
		t.Error("isNotFound(NoSuchKey) = false")
	}
	if !isNotFound(&types.NotFound{}) {
		t.Error("isNotFound(NotFound) = false")
	}
	if isNotFound(&types.NoSuchBucket{}) {
		t.Error("isNotFound(NoSuchBucket) = true")
	}
	if isNotFound(errors.New("boom")) {
		t.Error("isNotFound(plain error) = true")
	}
}
