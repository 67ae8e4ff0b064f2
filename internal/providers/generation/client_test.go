package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/jobs"
	"github.com/wujiajunhahah/dreamvision/internal/providers/providerhttp"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		APIKey:  "secret",
		BaseURL: srv.URL,
		Retry:   &providerhttp.RetryPolicy{MaxRetries: 0, Delay: time.Millisecond},
	})
	require.NoError(t, err)
	return client
}

func TestSubmitSendsRequestAndReadsTaskID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/dreams/3d", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "flying over clouds", body.Description)
		assert.Equal(t, "high", body.Quality)
		assert.Equal(t, "usdz", body.Format)
		assert.Equal(t, []string{"flying"}, body.Analysis.Keywords)
		assert.Contains(t, body.Prompt, "A figure soaring")
		_, _ = w.Write([]byte(`{"taskId":"task-42"}`))
	})

	id, err := client.Submit(context.Background(), domain.GenerationRequest{
		DreamID:     "d1",
		Description: "flying over clouds",
		Analysis:    domain.Analysis{Keywords: []string{"flying"}, VisualDescription: "A figure soaring"},
	})
	require.NoError(t, err)
	assert.Equal(t, "task-42", id)
}

func TestSubmitAcceptsNestedAndNumericIDs(t *testing.T) {
	for body, want := range map[string]string{
		`{"data":{"taskId":"nested"}}`: "nested",
		`{"id":12345678901}`:           "12345678901",
		`{"task_id":"snake"}`:          "snake",
	} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		id, err := client.Submit(context.Background(), domain.GenerationRequest{Description: "x"})
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestSubmitWithoutTaskIDIsMalformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	_, err := client.Submit(context.Background(), domain.GenerationRequest{Description: "x"})
	require.ErrorIs(t, err, domain.ErrProviderMalformed)
}

func TestSubmitQuotaExhausted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})
	_, err := client.Submit(context.Background(), domain.GenerationRequest{Description: "x"})
	require.ErrorIs(t, err, domain.ErrProviderQuota)
}

func TestQueryStatusEscapesJobID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dreams/3d/a%2Fb", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"status":"PROCESSING"}`))
	})
	state, err := client.QueryStatus(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, state.Status)
	assert.Equal(t, "PROCESSING", state.Raw)
}

func TestParseStatusArtifactPriority(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		wantURL    string
		wantFormat string
	}{
		{"download url wins", `{"status":"completed","downloadUrl":"https://a/x.usdz","url":"https://a/other","format":"USDZ"}`, "https://a/x.usdz", "usdz"},
		{"usdz preferred over glb", `{"status":"done","model_urls":{"glb":"https://a/m.glb","usdz":"https://a/m.usdz"}}`, "https://a/m.usdz", "usdz"},
		{"glb only", `{"status":"SUCCESS","model_urls":{"glb":"https://a/m.glb"}}`, "https://a/m.glb", "glb"},
		{"nested result", `{"state":"finished","result":{"url":"https://a/r"}}`, "https://a/r", ""},
		{"data shape", `{"data":{"status":"succeeded","downloadUrl":"https://a/d.usdz"}}`, "https://a/d.usdz", ""},
		{"non http skipped", `{"status":"completed","downloadUrl":"file:///etc/passwd","url":"https://a/u"}`, "https://a/u", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var doc map[string]any
			require.NoError(t, json.Unmarshal([]byte(tc.doc), &doc))
			state, err := parseStatus(doc)
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusSucceeded, state.Status)
			assert.Equal(t, tc.wantURL, state.ArtifactURL)
			assert.Equal(t, tc.wantFormat, state.Format)
		})
	}
}

func TestParseStatusSucceededWithoutArtifactIsMalformed(t *testing.T) {
	doc := map[string]any{"status": "completed", "preview": "https://a/p.png"}
	_, err := parseStatus(doc)
	require.ErrorIs(t, err, domain.ErrProviderMalformed)
}

func TestParseStatusFailureCarriesMessage(t *testing.T) {
	doc := map[string]any{"status": "failed", "error": map[string]any{"message": "nsfw content"}}
	state, err := parseStatus(doc)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, state.Status)
	assert.Equal(t, "nsfw content", state.Message)
	assert.Empty(t, state.ArtifactURL)
}

func TestParseStatusUnknownIsUnclassified(t *testing.T) {
	state, err := parseStatus(map[string]any{"status": "teleporting"})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusUnclassified, state.Status)
}

func TestPromptFromAnalysis(t *testing.T) {
	prompt := PromptFromAnalysis("raw text", domain.Analysis{
		VisualDescription: "A lighthouse on a cloud",
		Symbols:           []string{"light"},
		Emotions:          []string{"calm"},
	})
	assert.Contains(t, prompt, "A lighthouse on a cloud")
	assert.Contains(t, prompt, "Key elements: light")
	assert.Contains(t, prompt, "Mood: calm")
	assert.NotContains(t, prompt, "raw text")

	assert.Contains(t, PromptFromAnalysis("raw text", domain.Analysis{}), "raw text")
}
