package llmproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalguard/internal/config"
	"vitalguard/internal/metrics"
)

func TestAnalyzeRejectsMissingFields(t *testing.T) {
	c := New(config.LLMConfig{}, metrics.New(prometheus.NewRegistry()))
	_, err := c.Analyze(context.Background(), AnalysisRequest{})
	assert.Error(t, err)
}

func TestAnalyzeReturnsMarkdownFromUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.Contains(t, body.Messages[1].Content, "heart_rate")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "# Looks stable"}}},
		})
	}))
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL, Model: "test-model"}, metrics.New(prometheus.NewRegistry()))
	markdown, err := c.Analyze(context.Background(), AnalysisRequest{
		Parameter:  "heart_rate",
		TimeScale:  "1min",
		Unit:       "bpm",
		Timestamps: []string{"10:00:00", "10:00:05"},
		Values:     []float64{72, 74},
	})
	require.NoError(t, err)
	assert.Equal(t, "# Looks stable", markdown)
}

func TestAnalyzePropagatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL}, metrics.New(prometheus.NewRegistry()))
	_, err := c.Analyze(context.Background(), AnalysisRequest{
		Parameter: "heart_rate", TimeScale: "1min", Unit: "bpm",
	})
	assert.Error(t, err)
}
