package safety

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCrisis(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I want to kill myself", true},
		{"Sometimes I think I Want To Die", true},
		{"I can't go on like this", true},
		{"thoughts of SELF-HARM again", true},
		{"I feel sad today", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectCrisis(tt.text), tt.text)
	}
}

func TestAnnotate(t *testing.T) {
	tests := []struct {
		name    string
		message string
		a       Assessment
		want    string
	}{
		{"three words sadness", "I feel sad", Assessment{Emotion: "sadness"}, "I hear you're feeling sadness. I'm here for you."},
		{"two words sadness", "feel sad", Assessment{Emotion: "sadness"}, ""},
		{"fear", "I am really scared", Assessment{Emotion: "fear"}, "I hear you're feeling fear. I'm here for you."},
		{"joy gets nothing", "I got the job", Assessment{Emotion: "joy"}, ""},
		{"crisis overrides emotion", "I want to die now", Assessment{Emotion: "sadness", Crisis: true}, CrisisNote},
		{"short crisis", "suicidal thoughts", Assessment{Crisis: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Annotate(tt.message, tt.a))
		})
	}
}

func TestHTTPClassifier(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Emotion
	}{
		{"nested", `[[{"label":"joy","score":0.1},{"label":"sadness","score":0.8}]]`, Emotion{Label: "sadness", Score: 0.8}},
		{"flat", `[{"label":"fear","score":0.7},{"label":"anger","score":0.2}]`, Emotion{Label: "fear", Score: 0.7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

				var req classifyRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "I feel low", req.Inputs)

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewHTTPClassifier(srv.URL, "secret", 0).Classify(context.Background(), "I feel low")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPClassifier_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":"model loading"}`},
		{"empty list", http.StatusOK, `[]`},
		{"not json", http.StatusOK, `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClassifier(srv.URL, "", 0).Classify(context.Background(), "text")
			assert.ErrorIs(t, err, ErrClassifier)
		})
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (Emotion, error) {
	return Emotion{}, errors.New("unreachable")
}

func TestDetector_Assess(t *testing.T) {
	ctx := context.Background()

	a := NewDetector(StaticClassifier{Label: "Sadness"}, nil).Assess(ctx, "I feel sad")
	assert.Equal(t, Assessment{Emotion: "sadness", Score: 1}, a)

	degraded := NewDetector(failingClassifier{}, nil).Assess(ctx, "I want to end it all")
	assert.Equal(t, LabelNeutral, degraded.Emotion)
	assert.True(t, degraded.Crisis)

	def := NewDetector(nil, nil).Assess(ctx, "hello")
	assert.Equal(t, LabelNeutral, def.Emotion)
	assert.False(t, def.Crisis)
}
