// Package classifier is a client for the sentiment and spam model services.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/resilience"
)

// Client classifies review text.
type Client interface {
	Sentiment(ctx context.Context, text string) (*SentimentResult, error)
	Spam(ctx context.Context, text string) (*SpamResult, error)
}

// SentimentResult is the sentiment service response.
type SentimentResult struct {
	Label         string             `json:"label"`
	Score         float64            `json:"score"`
	Confidence    float64            `json:"confidence"`
	ModelVersion  string             `json:"model_version"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

// SpamResult is the spam service response.
type SpamResult struct {
	IsSpam       bool    `json:"is_spam"`
	Score        float64 `json:"score"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

type request struct {
	Text         string `json:"text"`
	ModelVersion string `json:"model_version"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) { c.retry = p }
}

// WithVersions pins the model versions sent with each request.
func WithVersions(sentiment, spam string) Option {
	return func(c *httpClient) {
		c.sentimentVersion = sentiment
		c.spamVersion = spam
	}
}

type httpClient struct {
	sentimentURL     string
	spamURL          string
	sentimentVersion string
	spamVersion      string
	http             *http.Client
	retry            resilience.Policy
}

// NewClient creates a classifier client for the two service endpoints.
func NewClient(sentimentURL, spamURL string, opts ...Option) Client {
	c := &httpClient{
		sentimentURL:     sentimentURL,
		spamURL:          spamURL,
		sentimentVersion: "1.0",
		spamVersion:      "1.0",
		http:             &http.Client{Timeout: 15 * time.Second},
		retry:            resilience.DefaultPolicy().WithLogging("classifier", "predict"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Sentiment(ctx context.Context, text string) (*SentimentResult, error) {
	if strings.TrimSpace(text) == "" {
		return &SentimentResult{Label: "neutral", Score: 0.5, Confidence: 1.0, ModelVersion: c.sentimentVersion}, nil
	}
	var out SentimentResult
	if err := c.post(ctx, c.sentimentURL, request{Text: text, ModelVersion: c.sentimentVersion}, &out); err != nil {
		return nil, eris.Wrap(err, "classifier: sentiment")
	}
	switch out.Label {
	case "positive", "negative", "neutral":
	default:
		return nil, eris.Errorf("classifier: sentiment: unknown label %q", out.Label)
	}
	if err := checkUnit("score", out.Score); err != nil {
		return nil, eris.Wrap(err, "classifier: sentiment")
	}
	if err := checkUnit("confidence", out.Confidence); err != nil {
		return nil, eris.Wrap(err, "classifier: sentiment")
	}
	if out.ModelVersion == "" {
		out.ModelVersion = c.sentimentVersion
	}
	return &out, nil
}

func (c *httpClient) Spam(ctx context.Context, text string) (*SpamResult, error) {
	if strings.TrimSpace(text) == "" {
		return &SpamResult{IsSpam: false, Score: 0, Confidence: 1.0, ModelVersion: c.spamVersion}, nil
	}
	var out SpamResult
	if err := c.post(ctx, c.spamURL, request{Text: text, ModelVersion: c.spamVersion}, &out); err != nil {
		return nil, eris.Wrap(err, "classifier: spam")
	}
	if err := checkUnit("score", out.Score); err != nil {
		return nil, eris.Wrap(err, "classifier: spam")
	}
	if err := checkUnit("confidence", out.Confidence); err != nil {
		return nil, eris.Wrap(err, "classifier: spam")
	}
	if out.ModelVersion == "" {
		out.ModelVersion = c.spamVersion
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, endpoint string, body request, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	raw, err := resilience.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read response body")
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
			if resilience.IsTransientStatus(resp.StatusCode) {
				return nil, resilience.Transient(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return eris.Wrap(json.Unmarshal(raw, out), "unmarshal response")
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return eris.Errorf("%s %v outside [0,1]", name, v)
	}
	return nil
}
