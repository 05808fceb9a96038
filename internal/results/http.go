package results

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPSource fetches final results from a scores API.
//
// GET {baseURL}/matches/{matchID}/result returns
//
//	{"match_id": "...", "completed": true, "result": "3.5",
//	 "scores": [{"name": "Home", "score": "2"}, {"name": "Away", "score": "1"}]}
//
// When result is absent the final result is the sum of the scores. A 404
// means the provider does not know the match yet.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource creates a scores API client.
func NewHTTPSource(baseURL, apiKey string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// MatchResult is the scores API payload.
type MatchResult struct {
	MatchID   string           `json:"match_id"`
	Completed bool             `json:"completed"`
	Result    *decimal.Decimal `json:"result,omitempty"`
	Scores    []Score          `json:"scores"`
}

// Score is one participant's score.
type Score struct {
	Name  string          `json:"name"`
	Score decimal.Decimal `json:"score"`
}

// Value returns the explicit result, or the total of all scores.
func (m MatchResult) Value() decimal.Decimal {
	if m.Result != nil {
		return *m.Result
	}
	total := decimal.Zero
	for _, s := range m.Scores {
		total = total.Add(s.Score)
	}
	return total
}

func (s *HTTPSource) FinalResult(ctx context.Context, matchID string) (decimal.Decimal, bool, error) {
	endpoint := fmt.Sprintf("%s/matches/%s/result", s.baseURL, url.PathEscape(matchID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, false, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("results: fetch %s: %w", matchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, false, fmt.Errorf("results: API returned %d for %s", resp.StatusCode, matchID)
	}

	var m MatchResult
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return decimal.Zero, false, fmt.Errorf("results: decode %s: %w", matchID, err)
	}

	if !m.Completed {
		return decimal.Zero, false, nil
	}
	if m.Result == nil && len(m.Scores) == 0 {
		return decimal.Zero, false, fmt.Errorf("%w: %s", ErrEmptyResult, matchID)
	}
	return m.Value(), true, nil
}
