package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/encodings"
	"github.com/tokenkit/tokenkit/tokenizer"
)

// bind decodes the JSON body into req, rejecting empty bodies.
func bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return false
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}

	return true
}

func (s *Server) resolve(c *gin.Context, encoding, model string) (*tokenizer.Tokenizer, string, bool) {
	t, name, err := s.registry.Resolve(c.Request.Context(), encoding, model)
	if err != nil {
		abort(c, err)
		return nil, "", false
	}

	return t, name, true
}

func (s *Server) encodeConfig(c *gin.Context, special string) (tokenizer.EncodeConfig, bool) {
	cfg, err := tokenizer.ParseSpecialPolicy(special)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return cfg, false
	}

	cfg.MaxInputBytes = s.maxInput
	return cfg, true
}

func (s *Server) TokenizeHandler(c *gin.Context) {
	var req api.TokenizeRequest
	if !bind(c, &req) {
		return
	}

	cfg, ok := s.encodeConfig(c, req.Special)
	if !ok {
		return
	}

	t, name, ok := s.resolve(c, req.Encoding, req.Model)
	if !ok {
		return
	}

	if req.Texts != nil {
		batch, err := t.EncodeBatch(c.Request.Context(), req.Texts, cfg)
		if err != nil {
			abort(c, err)
			return
		}

		var n, size int
		for i := range batch {
			n += len(batch[i])
			size += len(req.Texts[i])
		}

		s.metrics.ObserveTokens(name, "encode", n, size)
		c.JSON(http.StatusOK, api.TokenizeResponse{Encoding: name, Tokens: []int32{}, Batch: batch})
		return
	}

	ids, err := t.Encode(req.Text, cfg)
	if err != nil {
		abort(c, err)
		return
	}

	s.metrics.ObserveTokens(name, "encode", len(ids), len(req.Text))
	c.JSON(http.StatusOK, api.TokenizeResponse{Encoding: name, Tokens: ids})
}

func (s *Server) CountHandler(c *gin.Context) {
	var req api.TokenizeRequest
	if !bind(c, &req) {
		return
	}

	cfg, ok := s.encodeConfig(c, req.Special)
	if !ok {
		return
	}

	t, name, ok := s.resolve(c, req.Encoding, req.Model)
	if !ok {
		return
	}

	n, err := t.Count(req.Text, cfg)
	if err != nil {
		abort(c, err)
		return
	}

	s.metrics.ObserveTokens(name, "count", n, len(req.Text))
	c.JSON(http.StatusOK, api.CountResponse{Encoding: name, Count: n})
}

func (s *Server) DetokenizeHandler(c *gin.Context) {
	var req api.DetokenizeRequest
	if !bind(c, &req) {
		return
	}

	t, name, ok := s.resolve(c, req.Encoding, req.Model)
	if !ok {
		return
	}

	cfg := tokenizer.DecodeConfig{UTF8: tokenizer.UTF8Strict}
	if req.Lossy {
		cfg.UTF8 = tokenizer.UTF8Replace
	}

	text, err := t.DecodeString(req.Tokens, cfg)
	if err != nil {
		abort(c, err)
		return
	}

	s.metrics.ObserveTokens(name, "decode", len(req.Tokens), len(text))
	c.JSON(http.StatusOK, api.DetokenizeResponse{Encoding: name, Text: text})
}

func (s *Server) ListHandler(c *gin.Context) {
	defs := s.registry.Definitions()

	resp := api.ListResponse{Encodings: make([]api.EncodingInfo, 0, len(defs))}
	for _, def := range defs {
		info := api.EncodingInfo{
			Name:    def.Name,
			URL:     def.URL,
			Pattern: string(def.Pattern),
			Special: def.Special,
		}

		if t, ok := s.registry.Loaded(def.Name); ok {
			info.Loaded = true
			info.Size = t.Vocabulary().Size()
		}

		resp.Encodings = append(resp.Encodings, info)
	}

	c.JSON(http.StatusOK, resp)
}

// PullHandler loads an encoding and streams download progress as newline
// delimited JSON, ending with a "success" status.
func (s *Server) PullHandler(c *gin.Context) {
	var req api.PullRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()

	ch := make(chan any)
	send := func(v any) {
		select {
		case ch <- v:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(ch)

		_, _, err := s.registry.Resolve(encodings.WithProgress(ctx, func(p api.ProgressResponse) { send(p) }), req.Encoding, req.Model)
		if err != nil {
			send(gin.H{"error": err.Error(), "status": statusFor(err)})
			return
		}

		send(api.ProgressResponse{Status: "success"})
	}()

	streamResponse(c, ch)
}

func streamResponse(c *gin.Context, ch chan any) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		val, ok := <-ch
		if !ok {
			return false
		}

		if h, ok := val.(gin.H); ok {
			if e, ok := h["error"].(string); ok {
				status, ok := h["status"].(int)
				if !ok {
					status = http.StatusInternalServerError
				}

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.JSON(status, gin.H{"error": e})
				} else if err := json.NewEncoder(c.Writer).Encode(gin.H{"error": e}); err != nil {
					slog.Error("streamResponse failed to encode json error", "error", err)
				}

				return false
			}
		}

		bts, err := json.Marshal(val)
		if err != nil {
			slog.Info("streamResponse: marshal failed", "error", err)
			return false
		}

		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Info("streamResponse: write failed", "error", err)
			return false
		}

		return true
	})
}
