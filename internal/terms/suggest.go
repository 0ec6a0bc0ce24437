// File: internal/terms/suggest.go
package terms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Suggester expands a root term through the lexical suggestion endpoint.
type Suggester struct {
	client   Getter
	endpoint string
	logger   *zap.Logger
}

// NewSuggester creates a suggestion provider client.
func NewSuggester(client Getter, endpoint string, logger *zap.Logger) *Suggester {
	return &Suggester{client: client, endpoint: endpoint, logger: logger.Named("suggest")}
}

// RelatedTerms returns the suggestions for term in provider order. An empty
// suggestion list yields []string{term}, never an empty slice.
func (s *Suggester) RelatedTerms(ctx context.Context, term string) ([]string, error) {
	u := s.endpoint + "?query=" + url.QueryEscape(term)
	body, status, err := s.client.Get(ctx, u)
	if err != nil {
		return nil, &SourceError{Provider: "suggest", URL: u, Err: err}
	}
	if status != http.StatusOK {
		return nil, &SourceError{Provider: "suggest", URL: u, StatusCode: status}
	}

	suggestions, err := parseSuggestions(body)
	if err != nil {
		return nil, &SourceError{Provider: "suggest", URL: u, StatusCode: status, Err: err}
	}
	if len(suggestions) == 0 {
		s.logger.Debug("No suggestions, rotating on the root term", zap.String("term", term))
		return []string{term}, nil
	}
	return suggestions, nil
}

// parseSuggestions reads the second element of an OpenSearch suggestions
// array: ["query", ["s1", "s2", ...]].
func parseSuggestions(body []byte) ([]string, error) {
	var parts []jsoniter.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("suggestion payload has %d elements, want at least 2", len(parts))
	}
	var raw []string
	if err := json.Unmarshal(parts[1], &raw); err != nil {
		return nil, fmt.Errorf("decode suggestion list: %w", err)
	}

	out := raw[:0]
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
