package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"hrb-go/internal/hrb"
)

// entryMetadataKey is the user metadata key holding the base64 backend
// encoding of a blob's CollEntry.
const entryMetadataKey = "hrb-entry"

// s3API is the part of *s3.Client the transport uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// uploaderAPI is the part of *manager.Uploader the transport uses.
type uploaderAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Options locates the bucket. Endpoint switches to path-style addressing
// for S3-compatible servers.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Transport stores each blob as the object <prefix>/<owner>/<coll>/<hex>
// with its CollEntry in the object metadata. Collections served by it never
// have a cover.
type S3Transport struct {
	client   s3API
	uploader uploaderAPI
	bucket   string
	prefix   string
}

// NewS3Transport loads the AWS configuration and creates a transport.
func NewS3Transport(ctx context.Context, opts S3Options) (*S3Transport, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Transport(client, manager.NewUploader(client), opts.Bucket, opts.Prefix), nil
}

func newS3Transport(client s3API, uploader uploaderAPI, bucket, prefix string) *S3Transport {
	return &S3Transport{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (t *S3Transport) key(owner, coll string, id hrb.ObjectID) string {
	return path.Join(t.prefix, blobKey(owner, coll, id))
}

func (t *S3Transport) collPrefix(owner, coll string) string {
	return path.Join(t.prefix, owner, coll) + "/"
}

// isNotFound reports whether err is the S3 answer for a missing object.
// "NotFound" is what HEAD requests and some S3-compatible servers return.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Download writes the blob to w. Only the master rendition is stored.
func (t *S3Transport) Download(ctx context.Context, owner, coll string, id hrb.ObjectID, rendition string, w io.Writer) error {
	if err := checkNames(owner, coll); err != nil {
		return err
	}
	if rendition != hrb.DefaultRendition {
		return notFound(owner, coll, id, rendition)
	}

	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(owner, coll, id)),
	})
	if err != nil {
		if isNotFound(err) {
			return notFound(owner, coll, id, rendition)
		}
		return fmt.Errorf("getting object: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading object: %w", err)
	}
	return nil
}

// verifyingReader fails at EOF when the content read does not have the
// expected size and identity, so the uploader aborts instead of completing.
type verifyingReader struct {
	r    io.Reader
	h    *hrb.Hasher
	n    int64
	size int64
	id   hrb.ObjectID
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	v.h.Write(p[:n])
	v.n += int64(n)
	if errors.Is(err, io.EOF) {
		if v.n != v.size {
			return n, fmt.Errorf("size mismatch: expected %d bytes, got %d", v.size, v.n)
		}
		if got := v.h.Sum(); got != v.id {
			return n, &hrb.IdentityMismatchError{Want: v.id, Got: got}
		}
	}
	return n, err
}

// Upload stores the content, replacing any previous object for id.
func (t *S3Transport) Upload(ctx context.Context, owner, coll string, id hrb.ObjectID, entry hrb.CollEntry, r io.Reader, size int64) error {
	if err := checkNames(owner, coll); err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(t.key(owner, coll, id)),
		Body:     &verifyingReader{r: r, h: hrb.NewHasher(), size: size, id: id},
		Metadata: map[string]string{entryMetadataKey: base64.StdEncoding.EncodeToString(entry.MarshalBackend())},
	}
	if entry.Mime != "" {
		in.ContentType = aws.String(entry.Mime)
	}

	if _, err := t.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	return nil
}

// Load lists the collection's objects and reads each one's entry.
func (t *S3Transport) Load(ctx context.Context, owner, coll string) (*hrb.Collection, error) {
	if err := checkNames(owner, coll); err != nil {
		return nil, err
	}

	c := hrb.NewCollection(owner, coll)
	prefix := t.collPrefix(owner, coll)
	pages := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			id, ok := hrb.ParseObjectID(strings.TrimPrefix(key, prefix))
			if !ok {
				continue
			}
			entry, err := t.entry(ctx, key)
			if err != nil {
				return nil, err
			}
			c.Add(id, entry)
		}
	}
	return c, nil
}

func (t *S3Transport) entry(ctx context.Context, key string) (hrb.CollEntry, error) {
	head, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return hrb.CollEntry{}, fmt.Errorf("reading metadata of %s: %w", key, err)
	}

	raw, ok := head.Metadata[entryMetadataKey]
	if !ok {
		return hrb.CollEntry{Mime: aws.ToString(head.ContentType)}, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return hrb.CollEntry{}, fmt.Errorf("decoding metadata of %s: %w", key, err)
	}
	entry, err := hrb.UnmarshalBackendEntry(b)
	if err != nil {
		return hrb.CollEntry{}, fmt.Errorf("decoding metadata of %s: %w", key, err)
	}
	return entry, nil
}

var _ Store = (*S3Transport)(nil)
