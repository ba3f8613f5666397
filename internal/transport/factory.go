package transport

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"hrb-go/internal/config"
	"hrb-go/internal/hrb"
)

// NewTransportFromConfig creates a Store based on the transport config type.
// An http transport is returned without a session; call Login on it.
func NewTransportFromConfig(ctx context.Context, cfg config.TransportConfig, logger hrb.Logger) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryTransport(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem transport requires fs_root to be set")
		}
		t, err := NewFileSystemTransport(afero.NewOsFs(), cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 transport requires s3_bucket to be set")
		}
		if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
			return nil, fmt.Errorf("s3 transport requires both s3_access_key_id and s3_secret_access_key, or neither")
		}
		t, err := NewS3Transport(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "http":
		if cfg.HTTPBaseURL == "" {
			return nil, fmt.Errorf("http transport requires http_base_url to be set")
		}
		t, err := NewHTTPTransport(cfg.HTTPBaseURL, cfg.HTTPInsecure, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}
