package safety

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

// LabelNeutral is the emotion used when none can be determined.
const LabelNeutral = "neutral"

// ErrClassifier wraps every classification failure.
var ErrClassifier = errors.New("emotion classifier error")

// Emotion is a classifier verdict.
type Emotion struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier labels the emotion of a text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Emotion, error)
}

// StaticClassifier always returns the same label.
type StaticClassifier struct {
	Label string
}

// Classify returns the configured label, or neutral.
func (s StaticClassifier) Classify(context.Context, string) (Emotion, error) {
	label := s.Label
	if label == "" {
		label = LabelNeutral
	}
	return Emotion{Label: label, Score: 1}, nil
}

// HTTPClassifier calls a Hugging Face style text-classification endpoint,
// such as the Inference API serving bhadresh-savani/bert-base-uncased-emotion.
type HTTPClassifier struct {
	url    string
	token  string
	client *http.Client
}

var _ Classifier = (*HTTPClassifier)(nil)

// NewHTTPClassifier creates a classifier for url. token is sent as a bearer
// token when non-empty. A zero timeout defaults to 10 seconds.
func NewHTTPClassifier(url, token string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

type classifyRequest struct {
	Inputs string `json:"inputs"`
}

// Classify posts {"inputs": text} and returns the highest scoring label.
// Both the nested [[...]] and the flat [...] response shapes are accepted.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Emotion, error) {
	body, err := json.Marshal(classifyRequest{Inputs: text})
	if err != nil {
		return Emotion{}, fmt.Errorf("%w: marshal request: %w", ErrClassifier, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Emotion{}, fmt.Errorf("%w: create request: %w", ErrClassifier, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Emotion{}, fmt.Errorf("%w: request: %w", ErrClassifier, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Emotion{}, fmt.Errorf("%w: read response: %w", ErrClassifier, err)
	}
	if resp.StatusCode >= 400 {
		return Emotion{}, fmt.Errorf("%w: HTTP %d: %s", ErrClassifier, resp.StatusCode, bytes.TrimSpace(data))
	}

	labels, err := decodeLabels(data)
	if err != nil {
		return Emotion{}, fmt.Errorf("%w: %w", ErrClassifier, err)
	}
	return slices.MaxFunc(labels, func(a, b Emotion) int { return cmp.Compare(a.Score, b.Score) }), nil
}

func decodeLabels(data []byte) ([]Emotion, error) {
	var nested [][]Emotion
	if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}
	var flat []Emotion
	if err := json.Unmarshal(data, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	return nil, fmt.Errorf("unexpected response: %.200s", data)
}
