package envconfig

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const defaultPort = "11500"

// Host returns the scheme and host. Host can be configured via the
// TOKENKIT_HOST environment variable. Default is scheme "http" and host
// "127.0.0.1:11500"
func Host() *url.URL {
	port := defaultPort

	s := strings.TrimSpace(Var("TOKENKIT_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		port = "80"
	case scheme == "https":
		port = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		host = "127.0.0.1"
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	} else {
		port = p
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns a list of allowed origins. AllowedOrigins can be
// configured via the TOKENKIT_ORIGINS environment variable.
func AllowedOrigins() (origins []string) {
	if s := Var("TOKENKIT_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// CacheDir is where downloaded rank files are kept. It can be configured
// via the TOKENKIT_CACHE_DIR environment variable.
func CacheDir() string {
	if s := Var("TOKENKIT_CACHE_DIR"); s != "" {
		return s
	}

	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "tokenkit")
	}

	return filepath.Join(os.TempDir(), "tokenkit")
}

// LogLevel returns the log level for the application. Values are 0 or
// false for INFO, 1 or true for DEBUG and 2 for TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TOKENKIT_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}

			return b
		}

		return defaultValue
	}
}

func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

var (
	// Offline never fetches rank files over the network.
	Offline = Bool("TOKENKIT_OFFLINE")
	// NoPieceCache disables memoization of merged chunks.
	NoPieceCache = Bool("TOKENKIT_NO_PIECE_CACHE")
)

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}

		return defaultValue
	}
}

var (
	// PieceCache bounds the number of cached chunks. Zero means unbounded.
	PieceCache = Uint("TOKENKIT_PIECE_CACHE", 0)
	// MaxInput rejects requests larger than this many bytes. Zero means no limit.
	MaxInput = Uint("TOKENKIT_MAX_INPUT", 0)
)

// NumParallel bounds concurrent encodes in a batch. It can be configured
// via the TOKENKIT_NUM_PARALLEL environment variable.
func NumParallel() int {
	n := Uint("TOKENKIT_NUM_PARALLEL", uint(runtime.NumCPU()))()
	if n == 0 {
		return runtime.NumCPU()
	}

	return int(min(n, math.MaxInt32))
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TOKENKIT_DEBUG":          {"TOKENKIT_DEBUG", LogLevel(), "Show additional debug information (e.g. TOKENKIT_DEBUG=1)"},
		"TOKENKIT_HOST":           {"TOKENKIT_HOST", Host(), "IP Address for the tokenkit server (default 127.0.0.1:11500)"},
		"TOKENKIT_ORIGINS":        {"TOKENKIT_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"TOKENKIT_CACHE_DIR":      {"TOKENKIT_CACHE_DIR", CacheDir(), "The path to the rank file cache"},
		"TOKENKIT_OFFLINE":        {"TOKENKIT_OFFLINE", Offline(), "Only use rank files already in the cache"},
		"TOKENKIT_PIECE_CACHE":    {"TOKENKIT_PIECE_CACHE", PieceCache(), "Maximum number of cached chunks per encoding (default unbounded)"},
		"TOKENKIT_NO_PIECE_CACHE": {"TOKENKIT_NO_PIECE_CACHE", NoPieceCache(), "Do not cache merged chunks"},
		"TOKENKIT_MAX_INPUT":      {"TOKENKIT_MAX_INPUT", MaxInput(), "Maximum request size in bytes (default unlimited)"},
		"TOKENKIT_NUM_PARALLEL":   {"TOKENKIT_NUM_PARALLEL", NumParallel(), "Maximum number of texts encoded in parallel"},
		"TOKENKIT_CONFIG":         {"TOKENKIT_CONFIG", ConfigPaths(), "Path to a config.toml file"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Var returns an environment variable stripped of leading and trailing
// quotes or spaces, falling back to the config file.
func Var(key string) string {
	if s := strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'"); s != "" {
		return s
	}

	return fileValue(key)
}
