package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		User:    "sumsum",
		BaseDir: "/home/sumsum/.local/share/hrbsync",
		LogDir:  "/home/sumsum/.local/share/hrbsync/log",
		Backend: BackendConfig{Addr: "redis.lan:6379", DialTimeoutSeconds: 3, DB: 2},
		Transport: TransportConfig{
			Type:     "s3",
			S3Bucket: "photos",
			S3Prefix: "hrb",
			S3Region: "eu-west-1",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/sumsum/.local/share/hrbsync/data"},
		Sync: SyncConfig{
			Rendition:   "master",
			Concurrency: 8,
			Ignore:      []string{"*.tmp", ".DS_Store"},
		},
		Collections: []CollectionConfig{
			{Name: "holiday", Dir: "/home/sumsum/Pictures/holiday"},
			{Name: "cats", Dir: "/home/sumsum/Pictures/cats"},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if diff := cmp.Diff(original, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_Read(t *testing.T) {
	const doc = `
user = "yungyung"

[backend]
addr = "localhost:6380"

[transport]
type = "http"
http_base_url = "https://rabbit.example.com"

[[collections]]
name = "default"
dir = "/srv/photos"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.User != "yungyung" {
		t.Errorf("User = %q, want %q", cfg.User, "yungyung")
	}
	if cfg.Transport.Type != "http" || cfg.Transport.HTTPBaseURL != "https://rabbit.example.com" {
		t.Errorf("Transport = %+v, want http transport", cfg.Transport)
	}
	cc, ok := cfg.Collection("default")
	if !ok {
		t.Fatal("Collection(default) not found")
	}
	if cc.Dir != "/srv/photos" {
		t.Errorf("Collection(default).Dir = %q, want %q", cc.Dir, "/srv/photos")
	}
	if _, ok := cfg.Collection("missing"); ok {
		t.Error("Collection(missing) found, want not found")
	}
}

func TestManager_ReadInvalid(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader("user = [unterminated")); err == nil {
		t.Fatal("Read() expected error for malformed TOML")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("sumsum", "/data/hrb")

	if cfg.User != "sumsum" {
		t.Errorf("User = %q, want %q", cfg.User, "sumsum")
	}
	if cfg.LogDir != "/data/hrb/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/hrb/log")
	}
	if cfg.Transport.Type != "filesystem" || cfg.Transport.FSRoot != "/data/hrb/blobs" {
		t.Errorf("Transport = %+v, want filesystem under /data/hrb/blobs", cfg.Transport)
	}
	if cfg.Database.DataDir != "/data/hrb/data" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/hrb/data")
	}
	if cfg.Sync.Rendition != "master" {
		t.Errorf("Sync.Rendition = %q, want %q", cfg.Sync.Rendition, "master")
	}
	if cfg.Sync.Concurrency != 4 {
		t.Errorf("Sync.Concurrency = %d, want 4", cfg.Sync.Concurrency)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sub", "hrbsync.toml")
		cfg := NewConfig("u1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "hrbsync.toml")
		cfg := NewConfig("u1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "hrbsync.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.User != "read-test" {
			t.Errorf("User = %q, want %q", got.User, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/hrbsync.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hrbsync.toml")
		data := "user = \"sumsum\"\n[sync]\nrendition = \"master\"\n[[collections]]\nname = \"cats\"\n"
		if err := os.WriteFile(path, []byte(data), 0600); err != nil {
			t.Fatalf("writing config: %v", err)
		}
		if _, err := ReadFromFile(path); err == nil || !strings.Contains(err.Error(), "has no dir") {
			t.Errorf("ReadFromFile() error = %v, want missing dir", err)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no user", mutate: func(c *Config) { c.User = "" }, wantErr: "user is not set"},
		{name: "no rendition", mutate: func(c *Config) { c.Sync.Rendition = "" }, wantErr: "rendition"},
		{name: "negative concurrency", mutate: func(c *Config) { c.Sync.Concurrency = -1 }, wantErr: "negative"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Sync.Concurrency = 0 }},
		{
			name: "collections",
			mutate: func(c *Config) {
				c.Collections = []CollectionConfig{{Name: "cats", Dir: "/p/cats"}, {Name: "holiday", Dir: "/p/holiday"}}
			},
		},
		{
			name:    "unnamed collection",
			mutate:  func(c *Config) { c.Collections = []CollectionConfig{{Dir: "/p/x"}} },
			wantErr: "collections[0] has no name",
		},
		{
			name: "duplicate collection",
			mutate: func(c *Config) {
				c.Collections = []CollectionConfig{{Name: "cats", Dir: "/a"}, {Name: "cats", Dir: "/b"}}
			},
			wantErr: `collection "cats" is bound twice`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("sumsum", "/base")
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
