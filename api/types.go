package api

// TokenizeRequest selects an encoding either by name or by model. When both
// are set Encoding wins.
type TokenizeRequest struct {
	Encoding string `json:"encoding,omitempty"`
	Model    string `json:"model,omitempty"`
	Text     string `json:"text,omitempty"`

	// Texts encodes several inputs at once. The response carries one id
	// list per text in Batch.
	Texts []string `json:"texts,omitempty"`

	// Special is one of "none", "all", "text" or a comma separated list of
	// allowed special token literals.
	Special string `json:"special,omitempty"`
}

type TokenizeResponse struct {
	Encoding string    `json:"encoding"`
	Tokens   []int32   `json:"tokens"`
	Batch    [][]int32 `json:"batch,omitempty"`
}

type CountResponse struct {
	Encoding string `json:"encoding"`
	Count    int    `json:"count"`
}

type DetokenizeRequest struct {
	Encoding string  `json:"encoding,omitempty"`
	Model    string  `json:"model,omitempty"`
	Tokens   []int32 `json:"tokens"`

	// Lossy replaces invalid UTF-8 in the output instead of failing.
	Lossy bool `json:"lossy,omitempty"`
}

type DetokenizeResponse struct {
	Encoding string `json:"encoding"`
	Text     string `json:"text"`
}

type PullRequest struct {
	Encoding string `json:"encoding,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ProgressResponse reports rank file download progress. The final message of
// a successful pull has Status "success".
type ProgressResponse struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

type EncodingInfo struct {
	Name    string           `json:"name"`
	URL     string           `json:"url"`
	Pattern string           `json:"pattern"`
	Special map[string]int32 `json:"special,omitempty"`
	Loaded  bool             `json:"loaded"`
	Size    int              `json:"size,omitempty"`
}

type ListResponse struct {
	Encodings []EncodingInfo `json:"encodings"`
}
