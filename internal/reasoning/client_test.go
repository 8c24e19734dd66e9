package reasoning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"
)

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	if server != nil {
		cfg.BaseURL = server.URL
	}
	cfg.APIKey = "test"
	cfg.Timeout = 2 * time.Second
	cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitTurn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/turns" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Fatalf("missing auth header")
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var req TurnRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Input != "quiero info" {
			t.Fatalf("unexpected input %q", req.Input)
		}
		if req.ContinuationToken != "turn_prev" {
			t.Fatalf("unexpected token %q", req.ContinuationToken)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"turn_id":"turn_123","text":"¡Hola! ¿En qué puedo ayudarte?"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SubmitTurn(context.Background(), TurnRequest{
		Instructions:      "be helpful",
		Input:             "quiero info",
		ContinuationToken: "turn_prev",
	})
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if resp.TurnID != "turn_123" {
		t.Fatalf("unexpected turn id %q", resp.TurnID)
	}
	if resp.HasToolCalls() {
		t.Fatalf("unexpected tool calls")
	}
}

func TestSubmitTurnWithToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"turn_id":"turn_9","tool_calls":[{"call_id":"call_1","name":"handoff_to_operator","arguments":{"reason":"pricing"}}]}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SubmitTurn(context.Background(), TurnRequest{Input: "necesito hablar con alguien"})
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if !resp.HasToolCalls() {
		t.Fatalf("expected tool calls")
	}
	if resp.ToolCalls[0].CallID != "call_1" || resp.ToolCalls[0].Name != "handoff_to_operator" {
		t.Fatalf("unexpected tool call %+v", resp.ToolCalls[0])
	}
}

func TestSubmitToolOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/turns/turn_9/tool-outputs" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var out ToolOutput
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if out.CallID != "call_1" {
			t.Fatalf("unexpected call id %q", out.CallID)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"turn_id":"turn_10","text":"done"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SubmitToolOutput(context.Background(), "turn_9", ToolOutput{
		CallID: "call_1",
		Output: "operator notified",
	})
	if err != nil {
		t.Fatalf("submit output: %v", err)
	}
	if resp.TurnID != "turn_10" {
		t.Fatalf("unexpected turn id %q", resp.TurnID)
	}
}

func TestGetTurnPendingCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/v1/turns/turn_9" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"turn_id":"turn_9","pending_tool_calls":[{"call_id":"call_1","name":"handoff_to_operator"}]}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	status, err := client.GetTurn(context.Background(), "turn_9")
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if len(status.PendingToolCalls) != 1 {
		t.Fatalf("expected one pending call, got %d", len(status.PendingToolCalls))
	}
}

func TestRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"title":"upstream exploded"}`))
			return
		}
		w.Write([]byte(`{"data":{"turn_id":"turn_1","text":"ok"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 2, Backoff: time.Millisecond})
	resp, err := client.SubmitTurn(context.Background(), TurnRequest{Input: "hi"})
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoesNotRetryOn400(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"title":"bad instructions"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 3, Backoff: time.Millisecond})
	_, err := client.SubmitTurn(context.Background(), TurnRequest{Input: "hi"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "bad instructions") {
		t.Fatalf("expected api error detail, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected api key validation error")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatalf("expected base url validation error")
	}
	client, err := New(Config{APIKey: "k", BaseURL: "https://reasoning.example/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != "https://reasoning.example" {
		t.Fatalf("expected trimmed base url, got %s", client.baseURL)
	}
	if client.httpClient == nil || client.httpClient.Timeout != 60*time.Second {
		t.Fatalf("expected default timeout")
	}
}

func TestSubmitTurnValidation(t *testing.T) {
	client := newTestClient(t, nil, Config{BaseURL: "https://reasoning.example"})
	if _, err := client.SubmitTurn(context.Background(), TurnRequest{}); err == nil {
		t.Fatalf("expected input validation error")
	}
	if _, err := client.SubmitToolOutput(context.Background(), "", ToolOutput{CallID: "c"}); err == nil {
		t.Fatalf("expected turn id validation error")
	}
	if _, err := client.SubmitToolOutput(context.Background(), "turn_1", ToolOutput{}); err == nil {
		t.Fatalf("expected call id validation error")
	}
	if _, err := client.GetTurn(context.Background(), ""); err == nil {
		t.Fatalf("expected turn id validation error")
	}
}
