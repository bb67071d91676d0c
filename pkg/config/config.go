// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the toolgate configuration from an optional YAML file
// and TOOLGATE_-prefixed environment variables into an immutable record.
//
// Every key is enumerated. Unknown file keys and unknown TOOLGATE_ variables
// fail startup; the per-upstream keys (upstream-<id>-endpoint and
// upstream-<id>-credential) are validated once the descriptor table has been
// read, via ResolveUpstreams.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable configuration,
// e.g. TOOLGATE_TOKEN_SIGNING_SECRET maps to token-signing-secret.
const EnvPrefix = "TOOLGATE"

// Configuration keys. The set is closed; anything else is rejected at startup.
const (
	KeyTokenSigningSecret  = "token-signing-secret"
	KeyDBConnectionString  = "db-connection-string"
	KeyHTTPAddress         = "http-address"
	KeyUpstreamsFile       = "upstreams-file"
	KeyMetaToolsMode       = "meta-tools-mode"
	KeyRefreshTimeout      = "refresh-timeout-seconds"
	KeyCallTimeout         = "call-timeout-seconds"
	KeyRefreshRetries      = "refresh-retries"
	KeyRefreshRetryDelay   = "refresh-retry-delay-seconds"
	KeySkipStartupRefresh  = "skip-startup-refresh"
	KeyRequestBodyMaxBytes = "request-body-max-bytes"
	KeyAccessCacheTTL      = "access-cache-ttl-seconds"
	KeyEmbeddingDim        = "embedding-dim"
	KeyEmbeddingEndpoint   = "embedding-endpoint"
	KeyAccessCacheRedisURL = "access-cache-redis-url"
	KeyMetricsEnabled      = "metrics-enabled"
	KeyLogLevel            = "log-level"
	KeyLogFormat           = "log-format"
)

const (
	upstreamKeyPrefix        = "upstream-"
	upstreamEndpointSuffix   = "-endpoint"
	upstreamCredentialSuffix = "-credential"
)

// staticKeys is the whitelist of non-upstream configuration keys.
var staticKeys = map[string]bool{
	KeyTokenSigningSecret:  true,
	KeyDBConnectionString:  true,
	KeyHTTPAddress:         true,
	KeyUpstreamsFile:       true,
	KeyMetaToolsMode:       true,
	KeyRefreshTimeout:      true,
	KeyCallTimeout:         true,
	KeyRefreshRetries:      true,
	KeyRefreshRetryDelay:   true,
	KeySkipStartupRefresh:  true,
	KeyRequestBodyMaxBytes: true,
	KeyAccessCacheTTL:      true,
	KeyEmbeddingDim:        true,
	KeyEmbeddingEndpoint:   true,
	KeyAccessCacheRedisURL: true,
	KeyMetricsEnabled:      true,
	KeyLogLevel:            true,
	KeyLogFormat:           true,
}

// Config is the immutable configuration record loaded at startup.
type Config struct {
	// TokenSigningSecret is the shared symmetric secret used to verify
	// bearer tokens. Never logged.
	TokenSigningSecret string

	// DBConnectionString is the Postgres connection string for the
	// persistent store pool. Never logged.
	DBConnectionString string

	// HTTPAddress is the listen address for the gateway HTTP surface.
	HTTPAddress string

	// UpstreamsFile is the path of the YAML descriptor table.
	UpstreamsFile string

	// MetaToolsMode exposes only the three meta operations when true.
	MetaToolsMode bool

	// RefreshTimeout bounds each per-upstream discovery call.
	RefreshTimeout time.Duration

	// CallTimeout bounds each tool call to an upstream.
	CallTimeout time.Duration

	// RefreshRetries is the number of discovery retry attempts per upstream.
	RefreshRetries int

	// RefreshRetryDelay is the fixed back-off between discovery retries.
	RefreshRetryDelay time.Duration

	// SkipStartupRefresh starts serving without waiting for the first
	// catalog build.
	SkipStartupRefresh bool

	// RequestBodyMaxBytes caps inbound tool-call bodies. Bodies exactly at
	// the limit are accepted.
	RequestBodyMaxBytes int64

	// AccessCacheTTL is the expiry for cached access decisions.
	AccessCacheTTL time.Duration

	// EmbeddingDim pins the expected embedding dimension. Zero accepts
	// whatever the provider returns.
	EmbeddingDim int

	// EmbeddingEndpoint is the base URL of the embedding provider. Empty
	// disables embeddings; search falls back to substring ranking.
	EmbeddingEndpoint string

	// AccessCacheRedisURL selects the shared Redis access-cache backend.
	// Empty keeps the in-process cache.
	AccessCacheRedisURL string

	// MetricsEnabled exposes the Prometheus counters on GET /metrics.
	MetricsEnabled bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is json or text.
	LogFormat string

	// rawUpstreamKeys holds the upstream-* keys seen in the file and the
	// environment, pending validation against the descriptor table.
	rawUpstreamKeys []string

	v *viper.Viper
}

// Load reads the configuration from the given file (optional; empty path
// skips the file) and the environment, applies defaults, and validates the
// static key set. Upstream keys are validated later by ResolveUpstreams.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var rawUpstream []string
	if path != "" {
		fileKeys, err := readFileKeys(path)
		if err != nil {
			return nil, err
		}
		for _, key := range fileKeys {
			if staticKeys[key] {
				continue
			}
			if isUpstreamKey(key) {
				rawUpstream = append(rawUpstream, key)
				continue
			}
			return nil, fmt.Errorf("unknown configuration key %q in %s", key, path)
		}

		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
	}

	envKeys, err := readEnvKeys()
	if err != nil {
		return nil, err
	}
	rawUpstream = append(rawUpstream, envKeys...)
	sort.Strings(rawUpstream)

	cfg := &Config{
		TokenSigningSecret:  v.GetString(KeyTokenSigningSecret),
		DBConnectionString:  v.GetString(KeyDBConnectionString),
		HTTPAddress:         v.GetString(KeyHTTPAddress),
		UpstreamsFile:       v.GetString(KeyUpstreamsFile),
		MetaToolsMode:       v.GetBool(KeyMetaToolsMode),
		RefreshTimeout:      time.Duration(v.GetInt(KeyRefreshTimeout)) * time.Second,
		CallTimeout:         time.Duration(v.GetInt(KeyCallTimeout)) * time.Second,
		RefreshRetries:      v.GetInt(KeyRefreshRetries),
		RefreshRetryDelay:   time.Duration(v.GetInt(KeyRefreshRetryDelay)) * time.Second,
		SkipStartupRefresh:  v.GetBool(KeySkipStartupRefresh),
		RequestBodyMaxBytes: v.GetInt64(KeyRequestBodyMaxBytes),
		AccessCacheTTL:      time.Duration(v.GetInt(KeyAccessCacheTTL)) * time.Second,
		EmbeddingDim:        v.GetInt(KeyEmbeddingDim),
		EmbeddingEndpoint:   v.GetString(KeyEmbeddingEndpoint),
		AccessCacheRedisURL: v.GetString(KeyAccessCacheRedisURL),
		MetricsEnabled:      v.GetBool(KeyMetricsEnabled),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFormat:           v.GetString(KeyLogFormat),
		rawUpstreamKeys:     rawUpstream,
		v:                   v,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddress, ":8080")
	v.SetDefault(KeyUpstreamsFile, "upstreams.yaml")
	v.SetDefault(KeyMetaToolsMode, false)
	v.SetDefault(KeyRefreshTimeout, 10)
	v.SetDefault(KeyCallTimeout, 30)
	v.SetDefault(KeyRefreshRetries, 3)
	v.SetDefault(KeyRefreshRetryDelay, 5)
	v.SetDefault(KeySkipStartupRefresh, false)
	v.SetDefault(KeyRequestBodyMaxBytes, 1024*1024)
	v.SetDefault(KeyAccessCacheTTL, 60)
	v.SetDefault(KeyEmbeddingDim, 0)
	v.SetDefault(KeyEmbeddingEndpoint, "")
	v.SetDefault(KeyAccessCacheRedisURL, "")
	v.SetDefault(KeyMetricsEnabled, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
}

func (c *Config) validate() error {
	if c.TokenSigningSecret == "" {
		return fmt.Errorf("mandatory configuration key %q is not set", KeyTokenSigningSecret)
	}
	if c.DBConnectionString == "" {
		return fmt.Errorf("mandatory configuration key %q is not set", KeyDBConnectionString)
	}
	if c.RefreshRetries < 0 {
		return fmt.Errorf("%s must not be negative", KeyRefreshRetries)
	}
	if c.RequestBodyMaxBytes <= 0 {
		return fmt.Errorf("%s must be positive", KeyRequestBodyMaxBytes)
	}
	if c.EmbeddingDim < 0 {
		return fmt.Errorf("%s must not be negative", KeyEmbeddingDim)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s must be one of debug, info, warn, error", KeyLogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%s must be json or text", KeyLogFormat)
	}
	return nil
}

// ResolveUpstreams validates the upstream-* keys against the descriptor IDs
// and returns the per-upstream endpoint and credential maps. Every listed ID
// must have an endpoint; a missing or empty credential is allowed and
// disables that upstream.
func (c *Config) ResolveUpstreams(ids []string) (endpoints, credentials map[string]string, err error) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	for _, key := range c.rawUpstreamKeys {
		id, ok := upstreamIDFromKey(key)
		if !ok || !known[id] {
			return nil, nil, fmt.Errorf("unknown configuration key %q: no upstream with that ID is listed", key)
		}
	}

	endpoints = make(map[string]string, len(ids))
	credentials = make(map[string]string, len(ids))
	for _, id := range ids {
		endpoint := c.v.GetString(upstreamKeyPrefix + id + upstreamEndpointSuffix)
		if endpoint == "" {
			return nil, nil, fmt.Errorf("mandatory configuration key %q is not set", upstreamKeyPrefix+id+upstreamEndpointSuffix)
		}
		endpoints[id] = endpoint
		credentials[id] = c.v.GetString(upstreamKeyPrefix + id + upstreamCredentialSuffix)
	}
	return endpoints, credentials, nil
}

// readFileKeys parses the YAML file and returns its top-level keys.
// Nested values are rejected; the configuration is a flat key set.
func readFileKeys(path string) ([]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	keys := make([]string, 0, len(raw))
	for key, value := range raw {
		if _, nested := value.(map[string]any); nested {
			return nil, fmt.Errorf("configuration key %q in %s must not be a nested map", key, path)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// readEnvKeys scans the environment for TOOLGATE_ variables, rejects unknown
// static keys, and returns the normalized upstream-* keys for later checks.
func readEnvKeys() ([]string, error) {
	var upstream []string
	for _, entry := range os.Environ() {
		name, _, _ := strings.Cut(entry, "=")
		if !strings.HasPrefix(name, EnvPrefix+"_") {
			continue
		}
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix+"_")), "_", "-")
		if staticKeys[key] {
			continue
		}
		if isUpstreamKey(key) {
			upstream = append(upstream, key)
			continue
		}
		return nil, fmt.Errorf("unknown configuration variable %s", name)
	}
	return upstream, nil
}

func isUpstreamKey(key string) bool {
	_, ok := upstreamIDFromKey(key)
	return ok
}

// upstreamIDFromKey extracts the upstream ID from an
// upstream-<id>-endpoint or upstream-<id>-credential key.
func upstreamIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, upstreamKeyPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, upstreamKeyPrefix)
	for _, suffix := range []string{upstreamEndpointSuffix, upstreamCredentialSuffix} {
		if strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) {
			return strings.TrimSuffix(rest, suffix), true
		}
	}
	return "", false
}
