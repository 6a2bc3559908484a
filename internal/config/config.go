// Package config loads the runtime configuration: an optional YAML file
// overlaid by environment variables, validated before anything connects.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/transport/graph"
)

// Environment variables read by Load.
const (
	EnvTenantID        = "GRAPH_TENANT_ID"
	EnvClientID        = "GRAPH_CLIENT_ID"
	EnvClientSecret    = "GRAPH_CLIENT_SECRET"
	EnvBaseURL         = "GRAPH_BASE_URL"
	EnvAuthorityURL    = "GRAPH_AUTHORITY_URL"
	EnvRequestTimeout  = "GRAPH_REQUEST_TIMEOUT"
	EnvMaxResponseSize = "GRAPH_MAX_RESPONSE_SIZE"
	EnvStorageURI      = "STORAGE_URI"
	EnvStorageDatabase = "STORAGE_DATABASE"
	EnvPageSize        = "DIRSYNC_PAGE_SIZE"
	EnvUsersPageDelay  = "DIRSYNC_USERS_PAGE_DELAY"

	// Names kept from the Mongo-only deployments.
	EnvMongoURI    = "MONGO_URI"
	EnvMongoDBName = "MONGO_DB_NAME"
)

// Config is the complete runtime configuration.
type Config struct {
	Graph   GraphConfig    `yaml:"graph"`
	Storage StorageConfig  `yaml:"storage"`
	Sync    SyncConfig     `yaml:"sync"`
	Logging logging.Config `yaml:"logging"`
}

// GraphConfig holds the app registration and transport limits.
type GraphConfig struct {
	TenantID        string        `yaml:"tenant_id" validate:"required"`
	ClientID        string        `yaml:"client_id" validate:"required"`
	ClientSecret    string        `yaml:"client_secret" validate:"required"`
	BaseURL         string        `yaml:"base_url" validate:"required,url"`
	AuthorityURL    string        `yaml:"authority_url" validate:"required,url"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxResponseSize int64         `yaml:"max_response_size" validate:"gte=1024"`
}

// StorageConfig selects the backend, see storage.Open.
type StorageConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	Database string `yaml:"database" validate:"required"`
}

// SyncConfig tunes the streams.
type SyncConfig struct {
	// PageSize is sent as $top; zero keeps the server default.
	PageSize       int           `yaml:"page_size" validate:"gte=0,lte=999"`
	UsersPageDelay time.Duration `yaml:"users_page_delay" validate:"gte=0"`
}

// Default returns the configuration used before the file and the
// environment are applied.
func Default() *Config {
	return &Config{
		Graph: GraphConfig{
			BaseURL:         graph.DefaultBaseURL,
			AuthorityURL:    graph.DefaultAuthorityURL,
			RequestTimeout:  graph.DefaultRequestTimeout,
			MaxResponseSize: graph.DefaultMaxResponseSize,
		},
		Sync: SyncConfig{
			UsersPageDelay: time.Second,
		},
		Logging: logging.GetConfigFromEnv(),
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

var validate = validator.New()

// Load reads path (skipped when empty), applies the process environment
// and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithLookup(path, os.LookupEnv)
}

// LoadWithLookup is Load with an explicit environment.
func LoadWithLookup(path string, lookup LookupFunc) (*Config, error) {
	cfg, err := Read(path, lookup)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is LoadWithLookup without validation, for commands that only need
// part of the configuration.
func Read(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, syncErrors.NewConfigError(fmt.Errorf("read config file %s: %w", path, err))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, syncErrors.NewConfigError(fmt.Errorf("parse config file %s: %w", path, err))
		}
		// environment wins over the file
		cfg.Logging = logging.ApplyEnv(cfg.Logging)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, syncErrors.NewConfigError(err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	strs := []struct {
		dst  *string
		keys []string
	}{
		{&c.Graph.TenantID, []string{EnvTenantID}},
		{&c.Graph.ClientID, []string{EnvClientID}},
		{&c.Graph.ClientSecret, []string{EnvClientSecret}},
		{&c.Graph.BaseURL, []string{EnvBaseURL}},
		{&c.Graph.AuthorityURL, []string{EnvAuthorityURL}},
		{&c.Storage.URI, []string{EnvStorageURI, EnvMongoURI}},
		{&c.Storage.Database, []string{EnvStorageDatabase, EnvMongoDBName}},
	}
	for _, s := range strs {
		if v, ok := get(s.keys...); ok {
			*s.dst = v
		}
	}

	var errs []error
	if v, ok := get(EnvRequestTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRequestTimeout, err))
		}
		c.Graph.RequestTimeout = d
	}
	if v, ok := get(EnvUsersPageDelay); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvUsersPageDelay, err))
		}
		c.Sync.UsersPageDelay = d
	}
	if v, ok := get(EnvMaxResponseSize); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvMaxResponseSize, err))
		}
		c.Graph.MaxResponseSize = n
	}
	if v, ok := get(EnvPageSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvPageSize, err))
		}
		c.Sync.PageSize = n
	}
	return stderrors.Join(errs...)
}

// Validate checks every field and reports the failures by their YAML path.
func (c *Config) Validate() error {
	return configError("", validate.Struct(c))
}

// ValidateStorage checks only the storage section.
func (c *Config) ValidateStorage() error {
	return configError("storage", validate.Struct(c.Storage))
}

func configError(prefix string, err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return syncErrors.NewConfigError(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(prefix, fe.StructNamespace()), fe.Tag()))
	}
	return syncErrors.NewConfigError(fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; ")))
}

// fieldPath turns "Config.Graph.TenantID" into "graph.tenant_id". The
// root type name is replaced by prefix.
func fieldPath(prefix, ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || (nextLower && runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
