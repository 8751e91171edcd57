package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version          string
	Bind             string
	API              string
	LogLevel         string
	AccessLog        string
	Upstream         string
	Timeout          Duration
	CacheSize        int
	CacheSweep       Duration
	Snapshot         string
	BlockLists       []string
	BlockListDir     string
	BlockListTTL     Duration
	BlockListRefresh Duration
	Blocklist        []string
	Whitelist        []string
	AccessList       []string
	ClientRateLimit  int
	MaxInflight      int

	sVersion string
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText for duration type
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server (udp)
bind = "0.0.0.0:5353"

# Address to bind to for the http API server, left blank for disabled
api = "127.0.0.1:8080"

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# The location of access log file, left blank for disabled. Lines are written in Common Log Format.
# accesslog = "/var/log/sdnsfwd-access.log"
accesslog = ""

# Upstream recursive resolver, queries not answered from cache are forwarded here
upstream = "8.8.8.8:53"

# Network timeout for each upstream exchange in duration
timeout = "5s"

# Cache budget in bytes (estimated size of keys plus records)
cachesize = 10485760

# Interval of the expired entries sweeper, "0s" for disabled (expired entries are still dropped on read)
cachesweep = "1m"

# Cache snapshot location, saved on shutdown and loaded on startup. Left blank for disabled.
# A redis url can be used instead of a file path. Example: "redis://127.0.0.1:6379/0"
snapshot = "cache.snap"

# List of remote blocklists in hosts-file format. Local file paths are also accepted,
# they are watched and reloaded on change.
# blocklists = [
# "https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts"
# ]
blocklists = [
]

# Directory holding the downloaded copy of each remote blocklist
blocklistdir = "bl"

# Downloaded blocklists are reused while younger than this duration
blocklistttl = "24h"

# Interval of the blocklist refresh
blocklistrefresh = "1h"

# Manual blocklist entries
blocklist = []

# Manual whitelist entries, whitelisted domains and their subdomains are never blocked
whitelist = []

# Which clients allowed to make queries
accesslist = [
"0.0.0.0/0",
"::0/0"
]

# Client ip address based ratelimit per minute, 0 for disabled
clientratelimit = 0

# Maximum number of queries handled concurrently, further datagrams are dropped
maxinflight = 1024
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if cfgfile == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) setDefaults() {
	if c.Bind == "" {
		c.Bind = "0.0.0.0:5353"
	}

	if c.Upstream == "" {
		c.Upstream = "8.8.8.8:53"
	}

	if c.Timeout.Duration == 0 {
		c.Timeout.Duration = 5 * time.Second
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.BlockListDir == "" {
		c.BlockListDir = "bl"
	}

	if c.BlockListTTL.Duration == 0 {
		c.BlockListTTL.Duration = 24 * time.Hour
	}

	if c.BlockListRefresh.Duration == 0 {
		c.BlockListRefresh.Duration = time.Hour
	}

	if c.MaxInflight == 0 {
		c.MaxInflight = 1024
	}
}

func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.Upstream); err != nil {
		return fmt.Errorf("invalid upstream %q: %w", c.Upstream, err)
	}

	if c.CacheSize <= 0 {
		return fmt.Errorf("invalid cachesize %d", c.CacheSize)
	}

	if c.Timeout.Duration < 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout.Duration)
	}

	if c.MaxInflight < 0 {
		return fmt.Errorf("invalid maxinflight %d", c.MaxInflight)
	}

	return nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
