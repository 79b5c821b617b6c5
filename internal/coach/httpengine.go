package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/strideworks/stride/internal/session"
)

// HTTPEngine calls an external reasoning service over HTTP. The
// service receives the full context window and returns the reply.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPEngine creates an engine client for the given base URL.
func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type generateRequest struct {
	SessionID string           `json:"session_id"`
	OwnerID   string           `json:"owner_id"`
	Kind      string           `json:"kind"`
	Events    []*session.Event `json:"events"`
}

type generateResponse struct {
	Message   string         `json:"message"`
	Action    *ActionRequest `json:"action,omitempty"`
	Model     string         `json:"model,omitempty"`
	TokensIn  int            `json:"tokens_in,omitempty"`
	TokensOut int            `json:"tokens_out,omitempty"`
}

// Generate posts the window to the reasoning service's /generate
// endpoint.
func (e *HTTPEngine) Generate(ctx context.Context, window *session.ContextWindow) (*Reply, error) {
	if e.baseURL == "" {
		return nil, fmt.Errorf("%w: no reasoning engine configured", ErrEngine)
	}

	body, err := json.Marshal(generateRequest{
		SessionID: window.SessionID.String(),
		OwnerID:   window.OwnerID,
		Kind:      string(window.Kind),
		Events:    window.Events,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrEngine, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, respBody)
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrEngine, err)
	}
	if gen.Message == "" && gen.Action == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrEngine)
	}

	return &Reply{
		Message:   gen.Message,
		Action:    gen.Action,
		Model:     gen.Model,
		TokensIn:  gen.TokensIn,
		TokensOut: gen.TokensOut,
	}, nil
}
