package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource fetches quotes from a JSON provider:
//
//	GET {baseURL}?symbols=AAPL,MSFT → [{"symbol":"AAPL","price":"189.20",...}]
type HTTPSource struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPSource creates a provider client. apiKey is sent as a bearer
// token when set.
func NewHTTPSource(baseURL, apiKey string) *HTTPSource {
	return &HTTPSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// Fetch requests one batch of tickers.
func (s *HTTPSource) Fetch(ctx context.Context, tickers []string) (map[string]Raw, error) {
	out := make(map[string]Raw, len(tickers))
	if len(tickers) == 0 {
		return out, nil
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("quote source url: %w", err)
	}
	q := u.Query()
	q.Set("symbols", strings.Join(tickers, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("quote provider error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var quotes []Raw
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	for _, r := range quotes {
		out[strings.ToUpper(r.Symbol)] = r
	}
	return out, nil
}
