// Package config loads and validates the plextraktsync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a configuration that cannot start a run: missing
// credentials, malformed values, or an unreadable file.
var ErrConfiguration = errors.New("configuration error")

// Sync domain names accepted in sync.movies and sync.shows.
const (
	DomainWatched    = "watched"
	DomainRatings    = "ratings"
	DomainCollection = "collection"
	DomainLists      = "lists"
)

var (
	defaultMovieDomains = []string{DomainWatched, DomainRatings, DomainCollection, DomainLists}
	defaultShowDomains  = []string{DomainWatched, DomainLists}

	// Ratings and collection are only tracked for movies.
	showDomains = []string{DomainWatched, DomainLists}
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	Plex      PlexConfig       `yaml:"plex"`
	Trakt     TraktConfig      `yaml:"trakt"`
	Sync      SyncConfig       `yaml:"sync"`
	Cache     CacheConfig      `yaml:"cache"`
	Log       LogConfig        `yaml:"log"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// PlexConfig locates the Plex Media Server.
type PlexConfig struct {
	// URL is the server base URL (e.g. "http://plex.local:32400").
	URL string `yaml:"url"`

	// Token is the X-Plex-Token used on every request.
	Token string `yaml:"token"`

	// CollectionTag is the collection that marks items as collected when
	// the remote side reports them. Defaults to "Trakt Collection".
	CollectionTag string `yaml:"collection_tag"`

	// PageSize is the X-Plex-Container-Size used when listing sections.
	// Defaults to 200.
	PageSize int `yaml:"page_size"`
}

// TraktConfig carries the API application and the user's OAuth token.
// Obtaining the token is out of scope; it is refreshed automatically once
// present.
type TraktConfig struct {
	ClientID     string    `yaml:"client_id"`
	ClientSecret string    `yaml:"client_secret"`
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token"`
	Expiry       time.Time `yaml:"expiry"`

	// Username owns the watchlist. Defaults to "me".
	Username string `yaml:"username"`
}

// SyncConfig selects the domains reconciled per library kind.
type SyncConfig struct {
	Movies []string `yaml:"movies"`
	Shows  []string `yaml:"shows"`
}

// CacheConfig controls the state database and HTTP response cache.
type CacheConfig struct {
	// Path of the SQLite database. Empty means the default location.
	Path string `yaml:"path"`

	// TTL is how long GET responses are served from cache. Defaults to
	// 10m. A negative value disables the response cache.
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig controls log level and optional rotating file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "plextraktsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/plextraktsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "plextraktsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at path on fsys.
// Every failure wraps [ErrConfiguration].
func Load(fsys afero.Fs, path string) (*Config, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening config file %q: %w", ErrConfiguration, path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file %q: %w", ErrConfiguration, path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed and
// fills in defaults.
func (c *Config) validate() error {
	if c.Plex.URL == "" {
		return fmt.Errorf("plex.url is required")
	}
	u, err := url.ParseRequestURI(c.Plex.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("plex.url %q must be a valid http or https URL", c.Plex.URL)
	}
	c.Plex.URL = strings.TrimRight(c.Plex.URL, "/")
	if c.Plex.Token == "" {
		return fmt.Errorf("plex.token is required")
	}
	if c.Plex.CollectionTag == "" {
		c.Plex.CollectionTag = "Trakt Collection"
	}
	if c.Plex.PageSize == 0 {
		c.Plex.PageSize = 200
	}
	if c.Plex.PageSize < 1 || c.Plex.PageSize > 1000 {
		return fmt.Errorf("plex.page_size %d out of range [1, 1000]", c.Plex.PageSize)
	}

	if c.Trakt.ClientID == "" {
		return fmt.Errorf("trakt.client_id is required")
	}
	if c.Trakt.AccessToken == "" {
		return fmt.Errorf("trakt.access_token is required")
	}
	if c.Trakt.RefreshToken != "" && c.Trakt.ClientSecret == "" {
		return fmt.Errorf("trakt.client_secret is required to refresh the access token")
	}
	if c.Trakt.Username == "" {
		c.Trakt.Username = "me"
	}

	if c.Sync.Movies == nil {
		c.Sync.Movies = slices.Clone(defaultMovieDomains)
	}
	if c.Sync.Shows == nil {
		c.Sync.Shows = slices.Clone(defaultShowDomains)
	}
	if err := checkDomains("sync.movies", c.Sync.Movies, defaultMovieDomains); err != nil {
		return err
	}
	if err := checkDomains("sync.shows", c.Sync.Shows, showDomains); err != nil {
		return err
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}

	switch strings.ToLower(c.Log.Level) {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func checkDomains(field string, got, allowed []string) error {
	seen := make(map[string]bool, len(got))
	for _, d := range got {
		if !slices.Contains(allowed, d) {
			return fmt.Errorf("%s: unsupported domain %q (allowed: %s)", field, d, strings.Join(allowed, ", "))
		}
		if seen[d] {
			return fmt.Errorf("%s: duplicate domain %q", field, d)
		}
		seen[d] = true
	}
	return nil
}
