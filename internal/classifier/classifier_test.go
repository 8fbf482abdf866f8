package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tofagerl/mailmind/internal/config"
	"github.com/tofagerl/mailmind/internal/parser"
	"github.com/tofagerl/mailmind/pkg/models"
)

type stubOracle struct {
	mu      sync.Mutex
	reply   func(call int, prompt Prompt) (string, error)
	calls   int
	prompts []Prompt
}

func (s *stubOracle) Complete(ctx context.Context, prompt Prompt) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.reply(call, prompt)
}

func (s *stubOracle) Name() string { return "stub" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSet() *models.CategorySet {
	return models.NewCategorySet([]models.Category{
		{Name: "SPAM", Folder: "Spam"},
		{Name: "RECEIPTS", Folder: "Receipts"},
		{Name: "INBOX", Folder: "INBOX"},
	}, "INBOX")
}

func testBatch(n int) []*models.Message {
	batch := make([]*models.Message, n)
	for i := range batch {
		batch[i] = &models.Message{
			UID:       uint32(i + 1),
			MessageID: fmt.Sprintf("<m%d@example.com>", i+1),
			From:      "shop@example.com",
			Subject:   fmt.Sprintf("Message %d", i+1),
			Date:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			Body:      "hello",
		}
	}
	return batch
}

func newTestGateway(o Oracle, maxBatch int) *Gateway {
	return NewGateway(o, GatewayConfig{MaxBatch: maxBatch, Timeout: time.Second}, parser.NewHTMLParser(), testLogger())
}

func TestClassifyMissingResult(t *testing.T) {
	oracle := &stubOracle{reply: func(int, Prompt) (string, error) {
		return `{"email": 1, "category": "SPAM", "confidence": 95, "reasoning": "phish"}
{"email": 2, "category": "RECEIPTS", "confidence": 80, "reasoning": "order"}`, nil
	}}
	g := newTestGateway(oracle, 10)

	results := g.Classify(context.Background(), testBatch(3), testSet())
	require.Len(t, results, 3)

	assert.Equal(t, "SPAM", results[0].Category.Name)
	assert.Equal(t, 95.0, results[0].Confidence)
	assert.Equal(t, "RECEIPTS", results[1].Category.Name)

	assert.Equal(t, "INBOX", results[2].Category.Name)
	assert.Zero(t, results[2].Confidence)
	assert.Contains(t, results[2].Reasoning, "missing")
	assert.False(t, results[2].Failed)
}

func TestClassifyOracleFailure(t *testing.T) {
	oracle := &stubOracle{reply: func(int, Prompt) (string, error) {
		return "", errors.New("connection refused")
	}}
	g := newTestGateway(oracle, 10)

	results := g.Classify(context.Background(), testBatch(4), testSet())
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, "INBOX", r.Category.Name)
		assert.Zero(t, r.Confidence)
		assert.True(t, r.Failed)
		assert.True(t, strings.HasPrefix(r.Reasoning, "classification failed"), r.Reasoning)
		assert.Contains(t, r.Reasoning, "connection refused")
	}
}

func TestClassifyInvalidCategory(t *testing.T) {
	oracle := &stubOracle{reply: func(int, Prompt) (string, error) {
		return `Sure! {"email": 1, "category": "NEWSLETTERS", "confidence": 70, "reasoning": "x"}`, nil
	}}
	g := newTestGateway(oracle, 10)

	results := g.Classify(context.Background(), testBatch(1), testSet())
	require.Len(t, results, 1)
	assert.Equal(t, "INBOX", results[0].Category.Name)
	assert.Equal(t, "invalid category: NEWSLETTERS", results[0].Reasoning)
	assert.False(t, results[0].Failed)
}

func TestClassifyCaseInsensitiveCategory(t *testing.T) {
	oracle := &stubOracle{reply: func(int, Prompt) (string, error) {
		return `{"category": "receipts", "confidence": "88%"}`, nil
	}}
	g := newTestGateway(oracle, 10)

	results := g.Classify(context.Background(), testBatch(1), testSet())
	assert.Equal(t, "RECEIPTS", results[0].Category.Name)
	assert.Equal(t, 88.0, results[0].Confidence)
}

func TestParseResponse(t *testing.T) {
	set := testSet()

	tests := []struct {
		name      string
		text      string
		n         int
		want      []string
		reasoning []string
	}{
		{
			name: "index slotting out of order",
			text: `{"email": 2, "category": "SPAM"} {"email": 1, "category": "RECEIPTS"}`,
			n:    2,
			want: []string{"RECEIPTS", "SPAM"},
		},
		{
			name: "positional without index",
			text: "{\"category\": \"SPAM\"}\n{\"category\": \"INBOX\"}",
			n:    2,
			want: []string{"SPAM", "INBOX"},
		},
		{
			name:      "out of range index falls back to position",
			text:      `{"email": 9, "category": "SPAM"}`,
			n:         2,
			want:      []string{"SPAM", "INBOX"},
			reasoning: []string{"", ReasonMissing},
		},
		{
			name:      "broken fragment consumes a slot",
			text:      `{"category": SPAM} {"category": "RECEIPTS"}`,
			n:         2,
			want:      []string{"INBOX", "RECEIPTS"},
			reasoning: []string{ReasonParse, ""},
		},
		{
			name:      "stray braces in prose do not shift indexed results",
			text:      `Results {as requested}: {"email": 1, "category": "SPAM", "confidence": 90} {"email": 2, "category": "RECEIPTS", "confidence": 80}`,
			n:         2,
			want:      []string{"SPAM", "RECEIPTS"},
			reasoning: []string{"", ""},
		},
		{
			name: "indexed result placed before earlier positional one",
			text: `{"category": "RECEIPTS"} {"email": 1, "category": "SPAM"}`,
			n:    2,
			want: []string{"SPAM", "RECEIPTS"},
		},
		{
			name: "duplicate index fills the next free slot",
			text: `{"email": 1, "category": "SPAM"} {"email": 1, "category": "RECEIPTS"}`,
			n:    2,
			want: []string{"SPAM", "RECEIPTS"},
		},
		{
			name:      "missing category field",
			text:      `{"email": 1, "confidence": 50}`,
			n:         1,
			want:      []string{"INBOX"},
			reasoning: []string{ReasonMissingCategory},
		},
		{
			name: "extra fragments ignored",
			text: `{"category": "SPAM"} {"category": "SPAM"} {"category": "SPAM"}`,
			n:    1,
			want: []string{"SPAM"},
		},
		{
			name:      "no json at all",
			text:      "I cannot help with that.",
			n:         2,
			want:      []string{"INBOX", "INBOX"},
			reasoning: []string{ReasonMissing, ReasonMissing},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := parseResponse(tt.text, tt.n, set)
			require.Len(t, results, tt.n)
			for i, want := range tt.want {
				assert.Equal(t, want, results[i].Category.Name, "slot %d", i)
				if tt.reasoning != nil && tt.reasoning[i] != "" {
					assert.Equal(t, tt.reasoning[i], results[i].Reasoning, "slot %d", i)
				}
			}
		})
	}
}

func TestConfidenceClamped(t *testing.T) {
	results := parseResponse(`{"category": "SPAM", "confidence": 250} {"category": "SPAM", "confidence": -3}`, 2, testSet())
	assert.Equal(t, 100.0, results[0].Confidence)
	assert.Equal(t, 0.0, results[1].Confidence)
}

func TestParseResponseStrayBraces(t *testing.T) {
	text := `Results {as requested}: {"email": 1, "category": "SPAM", "confidence": 90} {"email": 2, "category": "RECEIPTS", "confidence": 80}`
	results := parseResponse(text, 2, testSet())

	assert.Equal(t, "SPAM", results[0].Category.Name)
	assert.Equal(t, 90.0, results[0].Confidence)
	assert.Equal(t, "RECEIPTS", results[1].Category.Name)
	assert.Equal(t, 80.0, results[1].Confidence)
}

func TestClassifySplitsLargeBatches(t *testing.T) {
	oracle := &stubOracle{reply: func(call int, p Prompt) (string, error) {
		n := strings.Count(p.User, "Email ")
		var b strings.Builder
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&b, "{\"email\": %d, \"category\": \"SPAM\"}\n", i)
		}
		return b.String(), nil
	}}
	g := newTestGateway(oracle, 3)

	for _, n := range []int{0, 1, 3, 7} {
		results := g.Classify(context.Background(), testBatch(n), testSet())
		assert.Len(t, results, n)
		for _, r := range results {
			assert.Equal(t, "SPAM", r.Category.Name)
		}
	}
	assert.Equal(t, 0+1+1+3, oracle.calls)
}

func TestClassifyBreakerOpens(t *testing.T) {
	oracle := &stubOracle{reply: func(int, Prompt) (string, error) {
		return "", errors.New("503")
	}}
	g := NewGateway(oracle, GatewayConfig{
		MaxBatch:        1,
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	}, nil, testLogger())

	results := g.Classify(context.Background(), testBatch(5), testSet())
	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Failed)
	}
	assert.Equal(t, 2, oracle.calls, "breaker short-circuits after two failures")
}

func TestClassifyRecoversPanic(t *testing.T) {
	oracle := &stubOracle{reply: func(int, Prompt) (string, error) {
		panic("boom")
	}}
	g := newTestGateway(oracle, 10)

	results := g.Classify(context.Background(), testBatch(2), testSet())
	require.Len(t, results, 2)
	assert.True(t, results[0].Failed)
	assert.Contains(t, results[0].Reasoning, "boom")
}

func TestBuildPrompt(t *testing.T) {
	batch := testBatch(2)
	batch[1].Body = strings.Repeat("x", 5000)

	p := BuildPrompt(batch, testSet(), parser.NewHTMLParser())
	assert.Contains(t, p.System, `"RECEIPTS"`)
	assert.Contains(t, p.User, "Email 1:")
	assert.Contains(t, p.User, "Subject: Message 2")
	assert.Less(t, len(p.User), 2500, "bodies are truncated")
}

func TestOpenAIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "classify", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"category\":\"SPAM\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "gpt-test"})
	out, err := c.Complete(context.Background(), Prompt{System: "sys", User: "classify"})
	require.NoError(t, err)
	assert.Equal(t, `{"category":"SPAM"}`, out)
}

func TestOpenAIClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(HTTPConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Complete(context.Background(), Prompt{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestOllamaClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "sys", req.System)
		assert.EqualValues(t, 200, req.Options["num_predict"])

		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(HTTPConfig{BaseURL: srv.URL, Model: "llama3", MaxTokens: 200})
	out, err := c.Complete(context.Background(), Prompt{System: "sys", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestNewOracle(t *testing.T) {
	_, err := NewOracle(&config.Config{OracleProvider: "openai"})
	assert.Error(t, err, "api key required")

	o, err := NewOracle(&config.Config{OracleProvider: "openai", OracleAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", o.Name())

	o, err = NewOracle(&config.Config{OracleProvider: "ollama", OracleBaseURL: defaultOpenAIBaseURL})
	require.NoError(t, err)
	assert.Equal(t, "ollama", o.Name())
	assert.Equal(t, defaultOllamaBaseURL, o.(*OllamaClient).baseURL)

	_, err = NewOracle(&config.Config{OracleProvider: "anthropic"})
	assert.Error(t, err)
}
