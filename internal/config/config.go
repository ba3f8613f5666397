package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the hrbsync configuration file.
type Config struct {
	User        string             `toml:"user"`
	BaseDir     string             `toml:"base_dir"`
	LogDir      string             `toml:"log_dir"`
	Backend     BackendConfig      `toml:"backend"`
	Transport   TransportConfig    `toml:"transport"`
	Database    DatabaseConfig     `toml:"database"`
	Sync        SyncConfig         `toml:"sync"`
	Collections []CollectionConfig `toml:"collections"`
}

// BackendConfig locates the key-value backend holding collection metadata
// and time indexes. An empty Addr disables metadata writes; the remote
// snapshot then comes from the transport.
type BackendConfig struct {
	Addr               string `toml:"addr"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
	Password           string `toml:"password,omitempty"`
	DB                 int    `toml:"db"`
}

// TransportConfig selects where blob contents are stored.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type TransportConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "http"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3"). Without an access
	// key the SDK's default credential chain is used.
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// HTTP-specific fields (only used when Type == "http")
	// Without a password, the CLI prompts for one.
	HTTPBaseURL  string `toml:"http_base_url,omitempty"`
	HTTPInsecure bool   `toml:"http_insecure,omitempty"`
	HTTPPassword string `toml:"http_password,omitempty"`
}

// DatabaseConfig configures the local sync history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig holds defaults for sync sessions.
type SyncConfig struct {
	Rendition   string   `toml:"rendition"`
	Concurrency int      `toml:"concurrency"`
	Ignore      []string `toml:"ignore"`
}

// CollectionConfig binds a remote collection to a local directory.
type CollectionConfig struct {
	Name string `toml:"name"`
	Dir  string `toml:"dir"`
}

// NewConfig creates a Config for user with everything stored under baseDir.
func NewConfig(user, baseDir string) *Config {
	return &Config{
		User:    user,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Backend: BackendConfig{
			Addr:               "localhost:6379",
			DialTimeoutSeconds: 5,
		},
		Transport: TransportConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "blobs"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Sync: SyncConfig{
			Rendition:   "master",
			Concurrency: 4,
		},
	}
}

// Collection returns the configured binding for name.
func (c *Config) Collection(name string) (CollectionConfig, bool) {
	for _, cc := range c.Collections {
		if cc.Name == name {
			return cc, true
		}
	}
	return CollectionConfig{}, false
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks what the factories cannot: collection bindings and sync
// settings. Transport and database fields are checked when they are built.
func (c *Config) Validate() error {
	var errs []error
	if c.User == "" {
		errs = append(errs, errors.New("user is not set"))
	}
	if c.Sync.Rendition == "" {
		errs = append(errs, errors.New("sync.rendition is not set"))
	}
	if c.Sync.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sync.concurrency %d is negative", c.Sync.Concurrency))
	}

	seen := make(map[string]bool, len(c.Collections))
	for i, cc := range c.Collections {
		switch {
		case cc.Name == "":
			errs = append(errs, fmt.Errorf("collections[%d] has no name", i))
		case seen[cc.Name]:
			errs = append(errs, fmt.Errorf("collection %q is bound twice", cc.Name))
		}
		if cc.Dir == "" {
			errs = append(errs, fmt.Errorf("collections[%d] has no dir", i))
		}
		seen[cc.Name] = true
	}
	return errors.Join(errs...)
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold the backend password.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
