package redis

import (
	"testing"
	"time"

	"hrb-go/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(config.BackendConfig{Addr: "redis.lan:6379", DialTimeoutSeconds: 3, Password: "pw", DB: 2}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if c.addr != "redis.lan:6379" || c.opts.DialTimeout != 3*time.Second || c.opts.Password != "pw" || c.opts.DB != 2 {
		t.Errorf("NewFromConfig() = %+v", c.opts)
	}
	if c.logger == nil {
		t.Error("nil logger was not replaced")
	}
	if c.Pending() != 0 || c.Err() != nil {
		t.Error("new Conn is not idle")
	}

	for _, cfg := range []config.BackendConfig{
		{},
		{Addr: "x:1", DialTimeoutSeconds: -1},
	} {
		if _, err := NewFromConfig(cfg, nil); err == nil {
			t.Errorf("NewFromConfig(%+v) expected error", cfg)
		}
	}
}
