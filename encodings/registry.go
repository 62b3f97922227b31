// Package encodings resolves named tiktoken vocabularies and model names to
// ready tokenizers, fetching and caching rank files on first use.
package encodings

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/envconfig"
	"github.com/tokenkit/tokenkit/tokenizer"
)

var (
	ErrUnknownEncoding  = errors.New("unknown encoding")
	ErrUnknownModel     = errors.New("unknown model")
	ErrChecksumMismatch = errors.New("rank file checksum mismatch")
	ErrNotCached        = errors.New("rank file is not cached and offline mode is on")
	ErrNoEncoding       = errors.New("an encoding or model is required")
)

// Registry holds encoding definitions and the tokenizers loaded from them.
// Loaded tokenizers live for the lifetime of the registry.
type Registry struct {
	CacheDir   string
	Offline    bool
	Client     *http.Client
	Options    []tokenizer.Option
	OnProgress func(api.ProgressResponse)

	// OnLoad is called after every attempt to load an encoding.
	OnLoad func(name string, err error)

	mu     sync.RWMutex
	defs   map[string]Definition
	loaded map[string]*tokenizer.Tokenizer
	group  singleflight.Group

	// generation counts Register calls per name. It keys loads so that
	// one started against a replaced definition is neither joined nor stored.
	generation map[string]uint64
}

// NewRegistry returns a registry holding the built-in encodings, configured
// from the environment.
func NewRegistry() *Registry {
	r := Registry{
		CacheDir: envconfig.CacheDir(),
		Offline:  envconfig.Offline(),
		Options:  TokenizerOptions(),
		defs:       make(map[string]Definition, len(builtin)),
		loaded:     make(map[string]*tokenizer.Tokenizer),
		generation: make(map[string]uint64),
	}

	for _, def := range builtin {
		r.defs[def.Name] = def.clone()
	}

	return &r
}

// TokenizerOptions maps the piece cache and parallelism settings to
// tokenizer options.
func TokenizerOptions() []tokenizer.Option {
	opts := []tokenizer.Option{tokenizer.WithParallel(envconfig.NumParallel())}

	switch n := envconfig.PieceCache(); {
	case envconfig.NoPieceCache():
		opts = append(opts, tokenizer.WithCache(tokenizer.NoCache))
	case n > 0:
		if c, err := tokenizer.NewLRUCache(int(n)); err == nil {
			opts = append(opts, tokenizer.WithCache(c))
		}
	}

	return opts
}

func (r *Registry) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}

	return &http.Client{Timeout: 5 * time.Minute}
}

// Register adds or replaces a definition. A tokenizer already loaded under
// the same name is dropped.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.URL == "" {
		return fmt.Errorf("register encoding: name and url are required")
	}

	if _, ok := def.Pattern.Expr(); !ok {
		return fmt.Errorf("register encoding %s: %w", def.Name, &tokenizer.LoadError{Err: tokenizer.ErrUnknownPattern, Detail: string(def.Pattern)})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def.clone()
	r.generation[def.Name]++
	delete(r.loaded, def.Name)
	return nil
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def.clone(), ok
}

// Definitions returns every registered definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def.clone())
	}

	slices.SortFunc(defs, func(a, b Definition) int {
		return cmp.Compare(a.Name, b.Name)
	})

	return defs
}

// Loaded returns the tokenizer for name if it has already been loaded.
func (r *Registry) Loaded(name string) (*tokenizer.Tokenizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.loaded[name]
	return t, ok
}

// Get returns the tokenizer for a named encoding, loading it once.
// Concurrent callers share a single load, which outlives any one caller:
// a canceled ctx only stops that caller from waiting.
func (r *Registry) Get(ctx context.Context, name string) (*tokenizer.Tokenizer, error) {
	r.mu.RLock()
	t, ok := r.loaded[name]
	def, known := r.defs[name]
	generation := r.generation[name]
	r.mu.RUnlock()

	if ok {
		return t, nil
	}

	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}

	// callers of a replaced definition never join a flight for the new one
	key := fmt.Sprintf("%s@%d", name, generation)
	ch := r.group.DoChan(key, func() (any, error) {
		t, err := r.load(context.WithoutCancel(ctx), def)
		if r.OnLoad != nil {
			r.OnLoad(name, err)
		}

		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.generation[name] == generation {
			r.loaded[name] = t
		} else {
			slog.Debug("definition replaced during load, not keeping tokenizer", "encoding", name)
		}

		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", name, context.Cause(ctx))
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		slog.Debug("encoding ready", "encoding", name, "shared", res.Shared)
		return res.Val.(*tokenizer.Tokenizer), nil
	}
}

func (r *Registry) load(ctx context.Context, def Definition) (*tokenizer.Tokenizer, error) {
	path, err := r.rankFile(ctx, def)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	vocab, err := tokenizer.LoadFile(path, def.Special, def.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Name, err)
	}

	slog.Info("loaded encoding", "encoding", def.Name, "size", vocab.Size(), "elapsed", time.Since(started).Round(time.Millisecond))
	return tokenizer.New(vocab, r.Options...), nil
}

// ForModel resolves a model name to its encoding and returns its tokenizer.
func (r *Registry) ForModel(ctx context.Context, model string) (*tokenizer.Tokenizer, string, error) {
	name, ok := ModelEncoding(model)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	t, err := r.Get(ctx, name)
	if err != nil {
		return nil, "", err
	}

	return t, name, nil
}

// Resolve returns the tokenizer named by encoding, or by model when encoding
// is empty, along with the resolved encoding name.
func (r *Registry) Resolve(ctx context.Context, encoding, model string) (*tokenizer.Tokenizer, string, error) {
	switch {
	case encoding != "":
		t, err := r.Get(ctx, encoding)
		return t, encoding, err
	case model != "":
		return r.ForModel(ctx, model)
	default:
		return nil, "", ErrNoEncoding
	}
}

var defaultRegistry = sync.OnceValue(NewRegistry)

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry()
}

// Get loads a named encoding from the default registry.
func Get(ctx context.Context, name string) (*tokenizer.Tokenizer, error) {
	return Default().Get(ctx, name)
}

// ForModel loads the encoding of a model from the default registry.
func ForModel(ctx context.Context, model string) (*tokenizer.Tokenizer, string, error) {
	return Default().ForModel(ctx, model)
}

// Register adds a definition to the default registry.
func Register(def Definition) error {
	return Default().Register(def)
}
