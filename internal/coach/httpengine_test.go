package coach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strideworks/stride/internal/session"
)

func testWindow() *session.ContextWindow {
	return &session.ContextWindow{
		SessionID: uuid.New(),
		OwnerID:   "owner-1",
		Kind:      session.KindWorkout,
		StartSeq:  1,
		EndSeq:    1,
		Events: []*session.Event{{
			Seq:     1,
			Type:    session.EventUserInput,
			Payload: json.RawMessage(`{"text":"done with squats"}`),
		}},
	}
}

func TestHTTPEngineGenerate(t *testing.T) {
	window := testWindow()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, window.SessionID.String(), req.SessionID)
		assert.Equal(t, "owner-1", req.OwnerID)
		assert.Len(t, req.Events, 1)

		json.NewEncoder(w).Encode(generateResponse{
			Message:   "great work, rest 2 minutes",
			Action:    &ActionRequest{Name: "complete_exercise"},
			Model:     "coach-v2",
			TokensIn:  50,
			TokensOut: 12,
		})
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	reply, err := engine.Generate(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, "great work, rest 2 minutes", reply.Message)
	require.NotNil(t, reply.Action)
	assert.Equal(t, "complete_exercise", reply.Action.Name)
	assert.Equal(t, 50, reply.TokensIn)
}

func TestHTTPEngineErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	_, err := engine.Generate(context.Background(), testWindow())
	assert.ErrorIs(t, err, ErrEngine)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPEngineEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	_, err := engine.Generate(context.Background(), testWindow())
	assert.ErrorIs(t, err, ErrEngine)
}

func TestHTTPEngineUnreachable(t *testing.T) {
	engine := NewHTTPEngine("http://127.0.0.1:1")
	_, err := engine.Generate(context.Background(), testWindow())
	assert.ErrorIs(t, err, ErrEngine)
}
