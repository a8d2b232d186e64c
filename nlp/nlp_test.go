package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse" {
			t.Errorf("path = %q, want /parse", r.URL.Path)
		}
		var req struct {
			Sentence string `json:"sentence"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Sentence != "Acme pays Beta." {
			t.Errorf("sentence = %q", req.Sentence)
		}
		json.NewEncoder(w).Encode(Tree{Tokens: []Token{
			{Text: "Acme", POS: "PROPN", Dep: "nsubj", Head: 1, Start: 0, End: 4},
			{Text: "pays", POS: "VERB", Dep: "ROOT", Head: 1, Start: 5, End: 9},
			{Text: "Beta", POS: "PROPN", Dep: "dobj", Head: 1, Start: 10, End: 14},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	tree, err := c.Parse(context.Background(), "Acme pays Beta.")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tree.Tokens) != 3 {
		t.Fatalf("len(tokens) = %d, want 3", len(tree.Tokens))
	}

	tok := tree.TokenAt(2)
	if tok == nil || tok.Text != "Acme" {
		t.Errorf("TokenAt(2) = %v, want Acme", tok)
	}
	if root := tree.Root(); root == nil || root.Text != "pays" {
		t.Errorf("Root() = %v, want pays", root)
	}
}

func TestClientParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.Parse(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 503 response")
	}
}

func TestTreeTokenAtMiss(t *testing.T) {
	tree := &Tree{Tokens: []Token{{Text: "a", Start: 0, End: 1}}}
	if tok := tree.TokenAt(5); tok != nil {
		t.Errorf("TokenAt(5) = %v, want nil", tok)
	}
}
