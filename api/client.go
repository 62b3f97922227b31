package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"

	"github.com/tokenkit/tokenkit/envconfig"
	"github.com/tokenkit/tokenkit/version"
)

// Client talks to a tokenkit server.
type Client struct {
	base *url.URL
	http *http.Client
}

// ClientFromEnvironment returns a client for the host named by TOKENKIT_HOST.
func ClientFromEnvironment() *Client {
	return NewClient(envconfig.Host(), http.DefaultClient)
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{base: base, http: http}
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	apiError := StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if err := json.Unmarshal(body, &apiError); err != nil {
		// not a json error body, fall back to the raw text
		apiError.ErrorMessage = string(body)
	}

	return apiError
}

func (c *Client) newRequest(ctx context.Context, method, path string, data any) (*http.Request, error) {
	var body io.Reader
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}

		body = bytes.NewReader(bts)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("tokenkit/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))
	return request, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	request, err := c.newRequest(ctx, method, path, reqData)
	if err != nil {
		return err
	}

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if err := checkError(response, body); err != nil {
		return err
	}

	if respData != nil && len(body) > 0 {
		return json.Unmarshal(body, respData)
	}

	return nil
}

const maxBufferSize = 512 * 1024

// stream posts data and calls fn with each newline delimited message of the
// response.
func (c *Client) stream(ctx context.Context, method, path string, data any, fn func([]byte) error) error {
	request, err := c.newRequest(ctx, method, path, data)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/x-ndjson")

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}

		return checkError(response, body)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, maxBufferSize), maxBufferSize)
	for scanner.Scan() {
		var errorResponse struct {
			Error string `json:"error,omitempty"`
		}

		bts := scanner.Bytes()
		if err := json.Unmarshal(bts, &errorResponse); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}

		if errorResponse.Error != "" {
			return StatusError{StatusCode: response.StatusCode, Status: response.Status, ErrorMessage: errorResponse.Error}
		}

		if err := fn(bts); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func (c *Client) Tokenize(ctx context.Context, req *TokenizeRequest) (*TokenizeResponse, error) {
	var resp TokenizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/tokenize", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) Count(ctx context.Context, req *TokenizeRequest) (*CountResponse, error) {
	var resp CountResponse
	if err := c.do(ctx, http.MethodPost, "/api/count", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) Detokenize(ctx context.Context, req *DetokenizeRequest) (*DetokenizeResponse, error) {
	var resp DetokenizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/detokenize", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/encodings", nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

type PullProgressFunc func(ProgressResponse) error

// Pull asks the server to load an encoding, reporting download progress.
func (c *Client) Pull(ctx context.Context, req *PullRequest, fn PullProgressFunc) error {
	return c.stream(ctx, http.MethodPost, "/api/pull", req, func(bts []byte) error {
		var resp ProgressResponse
		if err := json.Unmarshal(bts, &resp); err != nil {
			return err
		}

		return fn(resp)
	})
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}
