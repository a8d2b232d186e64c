// Package nlp provides the dependency-parsing collaborator consumed by
// the context resolver. Parsing runs in an external sidecar (spaCy,
// Stanza, or any service speaking the same JSON shape); this package
// holds the tree types and the HTTP client.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Token is one parsed token with its syntactic attachment. Start and
// End are byte offsets into the parsed sentence. Head indexes into the
// token slice; the root token points at itself.
type Token struct {
	Text  string `json:"text"`
	Lemma string `json:"lemma,omitempty"`
	POS   string `json:"pos"`
	Dep   string `json:"dep"`
	Head  int    `json:"head"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Tree is the dependency parse of one sentence.
type Tree struct {
	Tokens []Token `json:"tokens"`
}

// TokenAt returns the token covering the given byte offset, or nil.
func (t *Tree) TokenAt(offset int) *Token {
	for i := range t.Tokens {
		if t.Tokens[i].Start <= offset && offset < t.Tokens[i].End {
			return &t.Tokens[i]
		}
	}
	return nil
}

// Root returns the root token of the tree, or nil for an empty tree.
func (t *Tree) Root() *Token {
	for i := range t.Tokens {
		if t.Tokens[i].Head == i || t.Tokens[i].Dep == "ROOT" {
			return &t.Tokens[i]
		}
	}
	return nil
}

// Parser is the capability interface the resolver consumes. A nil
// Parser means the dependency signal is unavailable.
type Parser interface {
	Parse(ctx context.Context, sentence string) (*Tree, error)
}

// Client talks to a parser sidecar over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a Client for the sidecar at baseURL. timeout bounds
// each request; zero means 5 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type parseRequest struct {
	Sentence string `json:"sentence"`
}

// Parse sends the sentence to the sidecar's /parse endpoint.
func (c *Client) Parse(ctx context.Context, sentence string) (*Tree, error) {
	data, err := json.Marshal(parseRequest{Sentence: sentence})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/parse", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading parser response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parser error %d: %s", resp.StatusCode, string(body))
	}

	var tree Tree
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("decoding parser response: %w", err)
	}
	return &tree, nil
}
