package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/httputil"
)

// Candidate is one keyword proposed by the inference service. Scored is true
// when the service supplied its own confidence.
type Candidate struct {
	Keyword    string  `json:"keyword"`
	Confidence float64 `json:"confidence"`
	Scored     bool    `json:"-"`
}

// singleToken accepts keywords that fit a rule line and a self-named folder.
var singleToken = regexp.MustCompile(`^[^\s{}\[\]|:/\\]+$`)

// Validate checks a candidate before it is stored.
func (c Candidate) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Keyword, validation.Required, validation.Match(singleToken)),
		validation.Field(&c.Confidence, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Inferencer proposes keywords for a note's text.
type Inferencer interface {
	Infer(ctx context.Context, text string) ([]Candidate, error)
}

// HTTPClient calls a text-inference endpoint with bearer-token auth.
type HTTPClient struct {
	Endpoint        string
	Token           string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
	MaxRetries      int
	Client          *http.Client
	Logger          *slog.Logger
}

const promptTemplate = `Suggest short topic keywords for the note below. Answer with a JSON array of
lowercase single-word keyword strings and nothing else.

Note:
%s`

type inferenceRequest struct {
	Model           string  `json:"model,omitempty"`
	Input           string  `json:"input"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// Infer sends text to the endpoint and parses the candidate keywords from the
// response envelope. Transport failures, non-2xx statuses and unparseable
// payloads are ExternalServiceErrors.
func (c *HTTPClient) Infer(ctx context.Context, text string) ([]Candidate, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(inferenceRequest{
		Model:           c.Model,
		Input:           fmt.Sprintf(promptTemplate, text),
		Temperature:     c.Temperature,
		MaxOutputTokens: c.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("suggest: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.E(apperr.KindConfig, "suggest: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, c.MaxRetries, c.Logger)
	if err != nil {
		return nil, apperr.E(apperr.KindExternalService, "suggest: request", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperr.E(apperr.KindExternalService, "suggest: read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.E(apperr.KindExternalService, "suggest: request",
			fmt.Errorf("endpoint returned HTTP %d: %s", resp.StatusCode, truncate(string(payload), 200)))
	}

	cands, err := ParseCandidates(payload)
	if err != nil {
		return nil, apperr.E(apperr.KindExternalService, "suggest: parse response", err)
	}
	return cands, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// preferredKeys are searched first when walking a response envelope.
var preferredKeys = []string{
	"output_text", "output", "text", "content", "choices", "message",
	"candidates", "parts", "response", "result", "keywords", "data",
}

// ParseCandidates extracts the keyword array from a provider response. The
// envelope is walked depth-first; string leaves are parsed again as JSON,
// with Markdown code fences removed, so an array encoded inside a string is
// found too. Only the whole payload, a re-parsed string leaf or the value of
// a "keywords" field can be the answer; other envelope arrays such as
// "stop" sequences are only searched. Both ["a", "b"] and
// [{"keyword": "a", "confidence": 0.7}] are accepted.
func ParseCandidates(payload []byte) ([]Candidate, error) {
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		// Some endpoints answer with the bare model text.
		root = string(payload)
	}
	cands, ok := walk(root, true, 0)
	if !ok {
		return nil, fmt.Errorf("no keyword array in response")
	}
	return cands, nil
}

const maxDepth = 12

func walk(v any, direct bool, depth int) ([]Candidate, bool) {
	if depth > maxDepth {
		return nil, false
	}
	switch t := v.(type) {
	case string:
		s := stripFences(t)
		if !strings.HasPrefix(s, "[") && !strings.HasPrefix(s, "{") {
			return nil, false
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return nil, false
		}
		return walk(inner, true, depth+1)
	case []any:
		if direct {
			if cands, ok := asCandidates(t); ok {
				return cands, true
			}
		}
		for _, el := range t {
			if cands, ok := walk(el, false, depth+1); ok {
				return cands, true
			}
		}
	case map[string]any:
		for _, k := range orderedKeys(t) {
			if cands, ok := walk(t[k], k == "keywords", depth+1); ok {
				return cands, true
			}
		}
	}
	return nil, false
}

func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range preferredKeys {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// asCandidates converts an array of strings or of keyword objects.
func asCandidates(arr []any) ([]Candidate, bool) {
	if len(arr) == 0 {
		return []Candidate{}, true
	}
	out := make([]Candidate, 0, len(arr))
	for _, el := range arr {
		switch e := el.(type) {
		case string:
			out = append(out, Candidate{Keyword: e})
		case map[string]any:
			kw, ok := e["keyword"].(string)
			if !ok {
				return nil, false
			}
			c := Candidate{Keyword: kw}
			if conf, ok := e["confidence"].(float64); ok {
				c.Confidence, c.Scored = conf, true
			}
			out = append(out, c)
		default:
			return nil, false
		}
	}
	return out, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
