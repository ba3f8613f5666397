package redis

import (
	"fmt"
	"time"

	"hrb-go/internal/config"
	"hrb-go/internal/hrb"
)

// NewFromConfig creates an unconnected Conn from the backend config.
func NewFromConfig(cfg config.BackendConfig, logger hrb.Logger) (*Conn, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("backend addr is not set")
	}
	if cfg.DialTimeoutSeconds < 0 {
		return nil, fmt.Errorf("backend dial_timeout_seconds must not be negative")
	}
	return New(cfg.Addr, Options{
		DialTimeout: time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		Password:    cfg.Password,
		DB:          cfg.DB,
		Logger:      logger,
	}), nil
}
