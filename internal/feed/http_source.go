package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// quoteResponse is the JSON body returned by an exchange quote endpoint.
type quoteResponse struct {
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Depth     float64 `json:"depth"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds, optional
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPSource polls a REST quote endpoint: GET {baseURL}/quote?base=..&quote=..
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTPSource. A zero timeout uses 5 seconds.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchQuote implements domain.PriceSource.
func (s *HTTPSource) FetchQuote(ctx context.Context, exchange string, pair domain.TokenPair) (domain.Quote, error) {
	params := url.Values{}
	params.Set("base", pair.Base)
	params.Set("quote", pair.Quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed/http: %s: build request: %w", exchange, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed/http: %s: %w: %v", exchange, domain.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed/http: %s: read response: %w", exchange, err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return domain.Quote{}, fmt.Errorf("feed/http: %s: %w", exchange, err)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return domain.Quote{}, fmt.Errorf("feed/http: %s: decode quote: %w", exchange, err)
	}

	ts := time.Now()
	if qr.Timestamp > 0 {
		ts = time.UnixMilli(qr.Timestamp)
	}
	return domain.Quote{
		Exchange:  exchange,
		Pair:      pair,
		Bid:       qr.Bid,
		Ask:       qr.Ask,
		Depth:     qr.Depth,
		Timestamp: ts,
	}, nil
}

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = apiErr.Message
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrFeedUnavailable, statusCode, msg)
	}
}
