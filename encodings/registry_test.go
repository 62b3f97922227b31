package encodings

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/envconfig"
	"github.com/tokenkit/tokenkit/tokenizer"
)

var testPieces = []string{"he", "ll", "llo", "hello", " w", "or", " wor", "ld", " world"}

// rankFile renders testPieces with ranks from 256 so the byte layout is
// implicit.
func rankFile() []byte {
	var b bytes.Buffer
	for i, piece := range testPieces {
		fmt.Fprintf(&b, "%s %d\n", base64.StdEncoding.EncodeToString([]byte(piece)), 256+i)
	}

	return b.Bytes()
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	t.Setenv("TOKENKIT_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("TOKENKIT_CACHE_DIR", t.TempDir())
	t.Setenv("TOKENKIT_OFFLINE", "")
	envconfig.ReloadConfig()
	return NewRegistry()
}

func testDefinition(t *testing.T) Definition {
	t.Helper()
	data := rankFile()
	path := filepath.Join(t.TempDir(), "test_base.tiktoken")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return Definition{
		Name:    "test_base",
		URL:     path,
		SHA256:  digest(data),
		Pattern: tokenizer.PatternCL100K,
		Special: map[string]int32{EndOfText: 50000},
	}
}

func TestModelEncoding(t *testing.T) {
	cases := []struct {
		model string
		want  string
		ok    bool
	}{
		{"gpt-4o", "o200k_base", true},
		{"gpt-4o-2024-05-13", "o200k_base", true},
		{"GPT-4 ", "cl100k_base", true},
		{"gpt-4-0613", "cl100k_base", true},
		{"gpt-3.5-turbo-16k", "cl100k_base", true},
		{"text-embedding-3-small", "cl100k_base", true},
		{"text-davinci-003", "p50k_base", true},
		{"code-davinci-edit-001", "p50k_edit", true},
		{"davinci", "r50k_base", true},
		{"gpt2", "r50k_base", true},
		{"ft:gpt-3.5-turbo:org:custom:id", "cl100k_base", true},
		{"o1-preview", "o200k_base", true},
		{"llama3", "", false},
		{"", "", false},
	}

	for _, tt := range cases {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := ModelEncoding(tt.model)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuiltinDefinitions(t *testing.T) {
	r := testRegistry(t)

	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name

		_, ok := def.Pattern.Expr()
		assert.True(t, ok, def.Name)
		assert.Len(t, def.SHA256, 64, def.Name)
		assert.Contains(t, def.Special, EndOfText, def.Name)
	}

	assert.Equal(t, []string{"cl100k_base", "o200k_base", "p50k_base", "p50k_edit", "r50k_base"}, names)

	for _, name := range modelToEncoding {
		_, ok := r.Definition(name)
		assert.True(t, ok, name)
	}
}

func TestDefinitionIsCopied(t *testing.T) {
	r := testRegistry(t)

	def, ok := r.Definition("cl100k_base")
	require.True(t, ok)
	def.Special[EndOfText] = 1

	def, _ = r.Definition("cl100k_base")
	assert.Equal(t, int32(100257), def.Special[EndOfText])
}

func TestRegister(t *testing.T) {
	r := testRegistry(t)

	t.Run("missing url", func(t *testing.T) {
		assert.Error(t, r.Register(Definition{Name: "x"}))
	})

	t.Run("unknown pattern", func(t *testing.T) {
		err := r.Register(Definition{Name: "x", URL: "x", Pattern: "nope"})
		assert.True(t, errors.Is(err, tokenizer.ErrUnknownPattern))
	})

	t.Run("replace drops loaded", func(t *testing.T) {
		def := testDefinition(t)
		require.NoError(t, r.Register(def))

		_, err := r.Get(t.Context(), def.Name)
		require.NoError(t, err)

		_, ok := r.Loaded(def.Name)
		assert.True(t, ok)

		require.NoError(t, r.Register(def))
		_, ok = r.Loaded(def.Name)
		assert.False(t, ok)
	})
}

func TestGetLocal(t *testing.T) {
	r := testRegistry(t)
	def := testDefinition(t)
	require.NoError(t, r.Register(def))

	var loads atomic.Int32
	r.OnLoad = func(name string, err error) {
		assert.Equal(t, def.Name, name)
		assert.NoError(t, err)
		loads.Add(1)
	}

	tokenizers := make([]*tokenizer.Tokenizer, 8)

	var g errgroup.Group
	for i := range tokenizers {
		g.Go(func() error {
			tok, err := r.Get(t.Context(), def.Name)
			tokenizers[i] = tok
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, tok := range tokenizers {
		assert.Same(t, tokenizers[0], tok)
	}
	assert.Equal(t, int32(1), loads.Load())

	ids, err := tokenizers[0].Encode("hello world<|endoftext|>", tokenizer.EncodeConfig{Special: tokenizer.AllowAll})
	require.NoError(t, err)
	assert.Equal(t, []int32{259, 264, 50000}, ids)
}

func TestGetErrors(t *testing.T) {
	r := testRegistry(t)

	t.Run("unknown encoding", func(t *testing.T) {
		_, err := r.Get(t.Context(), "nope")
		assert.True(t, errors.Is(err, ErrUnknownEncoding))
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		def := testDefinition(t)
		def.Name = "corrupt"
		def.SHA256 = digest([]byte("something else"))
		require.NoError(t, r.Register(def))

		_, err := r.Get(t.Context(), def.Name)
		assert.True(t, errors.Is(err, ErrChecksumMismatch))
	})

	t.Run("missing file", func(t *testing.T) {
		def := testDefinition(t)
		def.Name = "missing"
		def.URL = filepath.Join(t.TempDir(), "missing.tiktoken")
		require.NoError(t, r.Register(def))

		_, err := r.Get(t.Context(), def.Name)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("malformed file", func(t *testing.T) {
		data := []byte("not base64! 12\n")
		path := filepath.Join(t.TempDir(), "bad.tiktoken")
		require.NoError(t, os.WriteFile(path, data, 0o644))
		require.NoError(t, r.Register(Definition{Name: "bad", URL: "file://" + path, Pattern: tokenizer.PatternGPT2}))

		_, err := r.Get(t.Context(), "bad")
		assert.True(t, errors.Is(err, tokenizer.ErrMalformedEntry))

		// failures are not memoized
		_, ok := r.Loaded("bad")
		assert.False(t, ok)
	})
}

func TestResolve(t *testing.T) {
	r := testRegistry(t)
	def := testDefinition(t)
	def.Name = "cl100k_base"
	require.NoError(t, r.Register(def))

	t.Run("encoding", func(t *testing.T) {
		_, name, err := r.Resolve(t.Context(), "cl100k_base", "gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, "cl100k_base", name)
	})

	t.Run("model", func(t *testing.T) {
		_, name, err := r.Resolve(t.Context(), "", "gpt-4")
		require.NoError(t, err)
		assert.Equal(t, "cl100k_base", name)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, _, err := r.Resolve(t.Context(), "", "llama3")
		assert.True(t, errors.Is(err, ErrUnknownModel))
	})

	t.Run("neither", func(t *testing.T) {
		_, _, err := r.Resolve(t.Context(), "", "")
		assert.True(t, errors.Is(err, ErrNoEncoding))
	})
}

func rankServer(t *testing.T, data []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/test_base.tiktoken" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Write(data)
	}))
	t.Cleanup(ts.Close)

	return ts, &hits
}

func TestDownload(t *testing.T) {
	data := rankFile()
	ts, hits := rankServer(t, data)

	r := testRegistry(t)
	r.Client = ts.Client()

	def := Definition{
		Name:    "test_base",
		URL:     ts.URL + "/test_base.tiktoken",
		SHA256:  digest(data),
		Pattern: tokenizer.PatternCL100K,
	}
	require.NoError(t, r.Register(def))

	var mu sync.Mutex
	var progress []api.ProgressResponse
	r.OnProgress = func(p api.ProgressResponse) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, p)
	}

	_, err := r.Get(t.Context(), def.Name)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, int64(len(data)), last.Total)
	assert.Equal(t, int64(len(data)), last.Completed)
	assert.Equal(t, "test_base", last.Digest)

	entries, err := os.ReadDir(r.CacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	t.Run("cached", func(t *testing.T) {
		offline := NewRegistry()
		offline.CacheDir = r.CacheDir
		offline.Offline = true
		require.NoError(t, offline.Register(def))

		_, err := offline.Get(t.Context(), def.Name)
		require.NoError(t, err)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("corrupt cache is replaced", func(t *testing.T) {
		path := filepath.Join(r.CacheDir, entries[0].Name())
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

		again := NewRegistry()
		again.CacheDir = r.CacheDir
		again.Client = ts.Client()
		require.NoError(t, again.Register(def))

		_, err := again.Get(t.Context(), def.Name)
		require.NoError(t, err)
		assert.Equal(t, int32(2), hits.Load())

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})
}

func TestDownloadErrors(t *testing.T) {
	data := rankFile()
	ts, _ := rankServer(t, data)

	t.Run("offline", func(t *testing.T) {
		r := testRegistry(t)
		r.Offline = true
		require.NoError(t, r.Register(Definition{Name: "test_base", URL: ts.URL + "/test_base.tiktoken", Pattern: tokenizer.PatternCL100K}))

		_, err := r.Get(t.Context(), "test_base")
		assert.True(t, errors.Is(err, ErrNotCached))
	})

	t.Run("not found", func(t *testing.T) {
		r := testRegistry(t)
		r.Client = ts.Client()
		require.NoError(t, r.Register(Definition{Name: "gone", URL: ts.URL + "/gone.tiktoken", Pattern: tokenizer.PatternCL100K}))

		_, err := r.Get(t.Context(), "gone")
		assert.ErrorContains(t, err, "404")
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		r := testRegistry(t)
		r.Client = ts.Client()
		require.NoError(t, r.Register(Definition{
			Name:    "test_base",
			URL:     ts.URL + "/test_base.tiktoken",
			SHA256:  digest([]byte("other")),
			Pattern: tokenizer.PatternCL100K,
		}))

		_, err := r.Get(t.Context(), "test_base")
		assert.True(t, errors.Is(err, ErrChecksumMismatch))

		entries, err := os.ReadDir(r.CacheDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestWithProgress(t *testing.T) {
	data := rankFile()
	ts, _ := rankServer(t, data)

	r := testRegistry(t)
	r.Client = ts.Client()
	r.OnProgress = func(api.ProgressResponse) {
		t.Error("registry progress should be overridden")
	}
	require.NoError(t, r.Register(Definition{Name: "test_base", URL: ts.URL + "/test_base.tiktoken", Pattern: tokenizer.PatternCL100K}))

	var calls int
	ctx := WithProgress(t.Context(), func(api.ProgressResponse) { calls++ })
	_, err := r.Get(ctx, "test_base")
	require.NoError(t, err)
	assert.Positive(t, calls)
}

// gatedServer serves data once release is closed. started is closed on the
// first request.
func gatedServer(t *testing.T, data []byte) (ts *httptest.Server, started <-chan struct{}, release func()) {
	t.Helper()

	start := make(chan struct{})
	gate := make(chan struct{})
	var startOnce, releaseOnce sync.Once

	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startOnce.Do(func() { close(start) })

		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}

		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Write(data)
	}))
	t.Cleanup(ts.Close)

	release = func() { releaseOnce.Do(func() { close(gate) }) }
	t.Cleanup(release)

	return ts, start, release
}

func TestGetCanceledCaller(t *testing.T) {
	data := rankFile()
	ts, started, release := gatedServer(t, data)

	r := testRegistry(t)
	r.Client = ts.Client()

	var loads atomic.Int32
	r.OnLoad = func(_ string, err error) {
		assert.NoError(t, err)
		loads.Add(1)
	}

	def := Definition{Name: "test_base", URL: ts.URL + "/test_base.tiktoken", SHA256: digest(data), Pattern: tokenizer.PatternCL100K}
	require.NoError(t, r.Register(def))

	ctx, cancel := context.WithCancel(t.Context())
	first := make(chan error, 1)
	go func() {
		_, err := r.Get(ctx, def.Name)
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := r.Get(t.Context(), def.Name)
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	time.AfterFunc(50*time.Millisecond, release)
	require.NoError(t, <-second)

	_, ok := r.Loaded(def.Name)
	assert.True(t, ok)
	assert.Equal(t, int32(1), loads.Load())
}

func TestGetCanceledLoadCompletes(t *testing.T) {
	data := rankFile()
	ts, started, release := gatedServer(t, data)

	r := testRegistry(t)
	r.Client = ts.Client()

	def := Definition{Name: "test_base", URL: ts.URL + "/test_base.tiktoken", SHA256: digest(data), Pattern: tokenizer.PatternCL100K}
	require.NoError(t, r.Register(def))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := r.Get(ctx, def.Name)
		done <- err
	}()
	<-started

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	release()
	assert.Eventually(t, func() bool {
		_, ok := r.Loaded(def.Name)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRegisterDuringLoad(t *testing.T) {
	data := rankFile()
	ts, started, release := gatedServer(t, data)

	r := testRegistry(t)
	r.Client = ts.Client()

	remote := Definition{Name: "test_base", URL: ts.URL + "/test_base.tiktoken", SHA256: digest(data), Pattern: tokenizer.PatternCL100K}
	require.NoError(t, r.Register(remote))

	type result struct {
		tok *tokenizer.Tokenizer
		err error
	}

	stale := make(chan result, 1)
	go func() {
		tok, err := r.Get(t.Context(), remote.Name)
		stale <- result{tok, err}
	}()
	<-started

	local := testDefinition(t)
	require.NoError(t, r.Register(local))

	fresh, err := r.Get(t.Context(), local.Name)
	require.NoError(t, err)

	release()
	old := <-stale
	require.NoError(t, old.err)
	assert.NotSame(t, fresh, old.tok)

	loaded, ok := r.Loaded(local.Name)
	require.True(t, ok)
	assert.Same(t, fresh, loaded)

	id, ok := loaded.Vocabulary().SpecialID(EndOfText)
	require.True(t, ok)
	assert.EqualValues(t, 50000, id)
}
