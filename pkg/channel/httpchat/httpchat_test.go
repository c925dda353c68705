package httpchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/pkg/bridge"
	"chatrelay/pkg/bus"
	"chatrelay/pkg/config"
	"chatrelay/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

// replyingSubmitter answers every submission through the adapter, the way the
// bus dispatcher would.
type replyingSubmitter struct {
	adapter *Adapter
	respond func(env bus.Envelope) []bus.Envelope
	err     error
}

func (s *replyingSubmitter) Submit(_ context.Context, env bus.Envelope) (bus.Envelope, error) {
	if s.err != nil {
		return env, s.err
	}
	if env.Session == "" {
		env.Session = "assigned-session"
	}

	go func() {
		for _, reply := range s.respond(env) {
			_ = s.adapter.Deliver(context.Background(), reply)
		}
	}()
	return env, nil
}

func encode(t *testing.T, kind bus.Kind, to bus.Envelope, payload any) bus.Envelope {
	t.Helper()
	env, err := protocol.Encode(kind, "agent:relay", to.Sender, to.Session, payload)
	require.NoError(t, err)
	return env
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(config.HTTPConfig{Addr: "127.0.0.1:0", ReplyTimeout: 5}, nil)
	require.NoError(t, err)
	return adapter
}

func do(t *testing.T, handler http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(w, req)
	return w
}

func TestChatReturnsFirstChatReply(t *testing.T) {
	adapter := newTestAdapter(t)
	submitter := &replyingSubmitter{adapter: adapter}
	submitter.respond = func(env bus.Envelope) []bus.Envelope {
		msg, err := protocol.Decode[protocol.ChatMessage](env)
		assert.NoError(t, err)
		assert.Equal(t, "hello", protocol.ExtractText(msg))
		assert.True(t, strings.HasPrefix(env.Sender, "http:"))

		return []bus.Envelope{
			encode(t, protocol.KindChatAck, env, protocol.Ack(msg)),
			encode(t, protocol.KindChatMessage, env, protocol.TextMessage("hi", true)),
		}
	}

	w := do(t, adapter.Handler(submitter), http.MethodPost, "/v1/chat", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, chatResponse{Acknowledged: true, Text: "hi", EndSession: true, Session: "assigned-session"}, got)
}

func TestChatRejectsSessionItDidNotIssue(t *testing.T) {
	adapter := newTestAdapter(t)
	submitted := make(chan bus.Envelope, 1)
	submitter := &replyingSubmitter{adapter: adapter, respond: func(env bus.Envelope) []bus.Envelope {
		submitted <- env
		return nil
	}}

	w := do(t, adapter.Handler(submitter), http.MethodPost, "/v1/chat", `{"text":"hello","session":"someone-else"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unknown session")
	require.Empty(t, submitted, "nothing is submitted under a foreign session")
}

func TestChatContinuesIssuedSessionUntilItEnds(t *testing.T) {
	adapter := newTestAdapter(t)
	var sessions []string
	submitter := &replyingSubmitter{adapter: adapter}
	submitter.respond = func(env bus.Envelope) []bus.Envelope {
		msg, err := protocol.Decode[protocol.ChatMessage](env)
		assert.NoError(t, err)

		sessions = append(sessions, env.Session)
		if protocol.ExtractText(msg) == "" {
			return []bus.Envelope{encode(t, protocol.KindChatMessage, env, protocol.TextMessage("Please provide text for me to process.", false))}
		}
		return []bus.Envelope{encode(t, protocol.KindChatMessage, env, protocol.TextMessage("done", true))}
	}
	handler := adapter.Handler(submitter)

	w := do(t, handler, http.MethodPost, "/v1/chat", `{"text":""}`)
	require.Equal(t, http.StatusOK, w.Code)
	var first chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.False(t, first.EndSession)
	require.Equal(t, "assigned-session", first.Session)

	w = do(t, handler, http.MethodPost, "/v1/chat", `{"text":"hello","session":"assigned-session"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var second chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	require.True(t, second.EndSession)
	require.Equal(t, []string{"assigned-session", "assigned-session"}, sessions)

	w = do(t, handler, http.MethodPost, "/v1/chat", `{"text":"again","session":"assigned-session"}`)
	require.Equal(t, http.StatusBadRequest, w.Code, "an ended session cannot be reused")
}

func TestChatTimesOutWithoutReply(t *testing.T) {
	adapter := newTestAdapter(t)
	adapter.replyTimeout = 20 * time.Millisecond
	submitter := &replyingSubmitter{adapter: adapter, respond: func(bus.Envelope) []bus.Envelope { return nil }}

	w := do(t, adapter.Handler(submitter), http.MethodPost, "/v1/chat", `{"text":"hello"}`)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestChatRejectsMalformedBody(t *testing.T) {
	adapter := newTestAdapter(t)
	submitter := &replyingSubmitter{adapter: adapter, respond: func(bus.Envelope) []bus.Envelope { return nil }}

	w := do(t, adapter.Handler(submitter), http.MethodPost, "/v1/chat", `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatReportsSubmitFailure(t *testing.T) {
	adapter := newTestAdapter(t)
	submitter := &replyingSubmitter{adapter: adapter, err: errors.New("agent inbox is closed")}

	w := do(t, adapter.Handler(submitter), http.MethodPost, "/v1/chat", `{"text":"hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "agent inbox is closed")
}

func TestBridgeEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)
	submitter := &replyingSubmitter{adapter: adapter}
	submitter.respond = func(env bus.Envelope) []bus.Envelope {
		req, err := protocol.Decode[protocol.BridgeRequest](env)
		assert.NoError(t, err)
		if req.OriginalText == "fail" {
			return []bus.Envelope{encode(t, protocol.KindError, env, protocol.ErrorMessage{Error: "API request failed: boom"})}
		}
		return []bus.Envelope{encode(t, protocol.KindBridgeResponse, env, bridge.Result{Success: true, Result: map[string]any{"veniceResponse": "ok"}})}
	}
	handler := adapter.Handler(submitter)

	w := do(t, handler, http.MethodPost, "/v1/bridge", `{"text":"go","tags":["a"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var result bridge.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.True(t, result.Success)
	require.Equal(t, "ok", result.Result["veniceResponse"])

	w = do(t, handler, http.MethodPost, "/v1/bridge", `{"text":"fail"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, w.Body.String(), "API request failed: boom")

	w = do(t, handler, http.MethodPost, "/v1/bridge", `{"tags":["a"]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)
	status := bridge.Healthy
	submitter := &replyingSubmitter{adapter: adapter}
	submitter.respond = func(env bus.Envelope) []bus.Envelope {
		return []bus.Envelope{encode(t, protocol.KindAgentHealth, env, protocol.AgentHealth{AgentName: "relay", Status: status})}
	}
	handler := adapter.Handler(submitter)

	w := do(t, handler, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"agent_name":"relay"`)

	status = bridge.Unhealthy
	w = do(t, handler, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewAdapterRequiresAddr(t *testing.T) {
	_, err := NewAdapter(config.HTTPConfig{}, nil)
	require.Error(t, err)
}
