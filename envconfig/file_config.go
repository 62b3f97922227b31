package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config is the layout of config.toml. Environment variables take
// precedence over every value set here.
type Config struct {
	Server struct {
		Host    string   `toml:"host"`
		Origins []string `toml:"origins"`
	} `toml:"server"`

	Cache struct {
		Dir     string `toml:"dir"`
		Offline bool   `toml:"offline"`
	} `toml:"cache"`

	Tokenizer struct {
		PieceCache   uint `toml:"piece_cache"`
		NoPieceCache bool `toml:"no_piece_cache"`
		MaxInput     uint `toml:"max_input"`
		NumParallel  uint `toml:"num_parallel"`
	} `toml:"tokenizer"`

	Logging struct {
		Debug int `toml:"debug"`
	} `toml:"logging"`
}

var (
	configMu   sync.Mutex
	configOnce sync.Once
	config     *Config
	configPath string
)

// ConfigPaths returns the config file locations searched, in order.
func ConfigPaths() []string {
	if s := strings.Trim(strings.TrimSpace(os.Getenv("TOKENKIT_CONFIG")), "\"'"); s != "" {
		return []string{s}
	}

	var paths []string
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "tokenkit", "config.toml"))
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths,
				filepath.Join(home, "Library", "Application Support", "tokenkit", "config.toml"),
				filepath.Join(home, ".config", "tokenkit", "config.toml"),
			)
		}
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			paths = append(paths, filepath.Join(xdgConfig, "tokenkit", "config.toml"))
		}

		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".config", "tokenkit", "config.toml"))
		}

		paths = append(paths, "/etc/tokenkit/config.toml")
	}

	return paths
}

func loadConfig() (*Config, string, error) {
	for _, path := range ConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
			}
			return &cfg, path, nil
		}
	}

	return nil, "", nil
}

// ReloadConfig forgets the loaded config file so the next lookup reads it
// again.
func ReloadConfig() {
	configMu.Lock()
	defer configMu.Unlock()
	configOnce = sync.Once{}
	config, configPath = nil, ""
}

// fileValue returns the config file value for an environment variable key,
// or "" when the file does not set it.
func fileValue(key string) string {
	configMu.Lock()
	defer configMu.Unlock()

	configOnce.Do(func() {
		var err error
		config, configPath, err = loadConfig()
		if err != nil {
			slog.Warn("failed to load config file", "error", err)
		} else if config != nil {
			slog.Debug("loaded config file", "path", configPath)
		}
	})

	if config == nil {
		return ""
	}

	uintValue := func(n uint) string {
		if n > 0 {
			return strconv.FormatUint(uint64(n), 10)
		}
		return ""
	}

	boolValue := func(b bool) string {
		if b {
			return "true"
		}
		return ""
	}

	switch key {
	case "TOKENKIT_HOST":
		return config.Server.Host
	case "TOKENKIT_ORIGINS":
		return strings.Join(config.Server.Origins, ",")
	case "TOKENKIT_CACHE_DIR":
		return config.Cache.Dir
	case "TOKENKIT_OFFLINE":
		return boolValue(config.Cache.Offline)
	case "TOKENKIT_PIECE_CACHE":
		return uintValue(config.Tokenizer.PieceCache)
	case "TOKENKIT_NO_PIECE_CACHE":
		return boolValue(config.Tokenizer.NoPieceCache)
	case "TOKENKIT_MAX_INPUT":
		return uintValue(config.Tokenizer.MaxInput)
	case "TOKENKIT_NUM_PARALLEL":
		return uintValue(config.Tokenizer.NumParallel)
	case "TOKENKIT_DEBUG":
		if config.Logging.Debug != 0 {
			return strconv.Itoa(config.Logging.Debug)
		}
	}

	return ""
}

// ExampleConfig returns a commented example config.toml.
func ExampleConfig() string {
	return `# tokenkit configuration
# Environment variables (TOKENKIT_*) override these values.

[server]
# Listen address for "tokenkit serve" and target for --remote (default: "127.0.0.1:11500")
host = "127.0.0.1:11500"
# Extra allowed CORS origins
origins = ["http://localhost:3000"]

[cache]
# Directory for downloaded rank files
dir = "/var/cache/tokenkit"
# Never download rank files
offline = false

[tokenizer]
# Maximum cached chunks per encoding (default: 0 = unbounded)
piece_cache = 0
# Disable the chunk cache
no_piece_cache = false
# Maximum request size in bytes (default: 0 = unlimited)
max_input = 0
# Texts encoded in parallel by batch requests (default: number of CPUs)
num_parallel = 4

[logging]
# 1 for debug, 2 for trace
debug = 0
`
}
