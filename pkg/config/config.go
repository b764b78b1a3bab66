// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package config loads the agent configuration from an ordered list of
// TOML locations; later locations override earlier ones, so baked-in
// defaults can be shadowed by per-device files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog/log"

	"github.com/edgeward/otaup/pkg/session"
)

type (
	// AppConfig is the merged view over all loaded TOML trees.
	AppConfig struct {
		trees []*toml.Tree
	}

	// Config exposes the agent's typed settings.
	Config struct {
		appConfig *AppConfig
		serverURL *url.URL
	}
)

const (
	ServerURLKey      = "server.url"
	EventsURLKey      = "server.events_url"
	RecvTimeoutKey    = "server.recv_timeout_ms"
	KeepAliveKey      = "server.keep_alive"
	ChunkSizeKey      = "server.chunk_size"
	StorageDirKey     = "storage.path"
	SQLDBPathKey      = "storage.sqldb_path"
	PartitionTableKey = "storage.table"
	LogTagKey         = "log.tag"
	PollingSecondsKey = "daemon.polling_seconds"

	StorageDefaultDir     = "/var/otaup"
	RecvTimeoutDefaultMs  = 5000
	ChunkSizeDefault      = 4096
	LogTagDefault         = "ota_task"
	PollingSecondsDefault = 300
	SQLDBDefaultFilename  = "sql.db"
	PartitionTableDefault = "partitions.toml"
)

// DefaultConfigOrder is the search order for configuration, lowest to
// highest precedence.
var DefaultConfigOrder = []string{
	"/usr/lib/otaup/conf.d",
	"/var/otaup/otaup.toml",
	"/etc/otaup/conf.d",
}

// NewAppConfig loads every TOML file found at the given paths. A path may
// be a file or a directory of *.toml files; missing paths are skipped.
func NewAppConfig(paths []string) (*AppConfig, error) {
	cfg := &AppConfig{}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files := []string{p}
		if info.IsDir() {
			files, err = filepath.Glob(filepath.Join(p, "*.toml"))
			if err != nil {
				return nil, err
			}
			sort.Strings(files)
		}
		for _, f := range files {
			tree, err := toml.LoadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", f, err)
			}
			cfg.trees = append(cfg.trees, tree)
		}
	}
	if len(cfg.trees) == 0 {
		return nil, fmt.Errorf("no config files found in %s", strings.Join(paths, ", "))
	}
	return cfg, nil
}

// Get returns the string value of a dotted key, last loaded file wins.
func (c *AppConfig) Get(key string) string {
	for i := len(c.trees) - 1; i >= 0; i-- {
		if c.trees[i].Has(key) {
			return fmt.Sprintf("%v", c.trees[i].Get(key))
		}
	}
	return ""
}

func (c *AppConfig) GetDefault(key, def string) string {
	if c.Has(key) {
		return c.Get(key)
	}
	return def
}

func (c *AppConfig) Has(key string) bool {
	for _, t := range c.trees {
		if t.Has(key) {
			return true
		}
	}
	return false
}

func (c *AppConfig) getInt(key string, def int) int {
	if !c.Has(key) {
		return def
	}
	v, err := strconv.Atoi(c.Get(key))
	if err != nil || v <= 0 {
		log.Warn().Str("key", key).Str("value", c.Get(key)).Int("default", def).
			Msg("Invalid config value; using default")
		return def
	}
	return v
}

func NewConfig(paths []string) (*Config, error) {
	appConfig, err := NewAppConfig(paths)
	if err != nil {
		return nil, err
	}
	// Check mandatory fields in the TOML config
	if !appConfig.Has(ServerURLKey) {
		return nil, fmt.Errorf("no %q is found in the TOML config;"+
			" it defines the firmware image URL", ServerURLKey)
	}
	serverURL, err := url.Parse(appConfig.Get(ServerURLKey))
	if err != nil {
		return nil, fmt.Errorf("invalid value of the firmware image URL: %w", err)
	}
	if serverURL.Scheme != "http" && serverURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported firmware image URL scheme %q", serverURL.Scheme)
	}
	return &Config{appConfig: appConfig, serverURL: serverURL}, nil
}

func (c *Config) AppConfig() *AppConfig { return c.appConfig }

func (c *Config) GetServerURL() *url.URL { return c.serverURL }

func (c *Config) GetEventsURL() string {
	return c.appConfig.Get(EventsURLKey)
}

func (c *Config) GetRecvTimeout() time.Duration {
	return time.Duration(c.appConfig.getInt(RecvTimeoutKey, RecvTimeoutDefaultMs)) * time.Millisecond
}

func (c *Config) GetKeepAlive() bool {
	v := c.appConfig.GetDefault(KeepAliveKey, "true")
	keepAlive, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("value", v).Msg("Invalid value for keep_alive; using true")
		return true
	}
	return keepAlive
}

func (c *Config) GetChunkSize() int {
	return c.appConfig.getInt(ChunkSizeKey, ChunkSizeDefault)
}

func (c *Config) GetStorageDir() string {
	return c.appConfig.GetDefault(StorageDirKey, StorageDefaultDir)
}

func (c *Config) GetDBPath() string {
	return filepath.Join(c.GetStorageDir(), c.appConfig.GetDefault(SQLDBPathKey, SQLDBDefaultFilename))
}

func (c *Config) GetPartitionTablePath() string {
	return filepath.Join(c.GetStorageDir(), c.appConfig.GetDefault(PartitionTableKey, PartitionTableDefault))
}

func (c *Config) GetLogTag() string {
	return c.appConfig.GetDefault(LogTagKey, LogTagDefault)
}

func (c *Config) GetPollingInterval() time.Duration {
	return time.Duration(c.appConfig.getInt(PollingSecondsKey, PollingSecondsDefault)) * time.Second
}

// SessionConfig builds the immutable per-invocation transport settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		URL:       c.serverURL.String(),
		Timeout:   c.GetRecvTimeout(),
		KeepAlive: c.GetKeepAlive(),
	}
}
