package coach

import (
	"context"

	"github.com/strideworks/stride/internal/session"
)

// Engine produces the next coach reply for a context window. Engines
// are stateless: everything they may consider is in the window, and
// they are always called outside any storage transaction.
type Engine interface {
	Generate(ctx context.Context, window *session.ContextWindow) (*Reply, error)
}

// Reply is one generated coach turn.
type Reply struct {
	// Message is the coach's message to the user.
	Message string `json:"message"`

	// Action is an optional action the engine wants applied, such as
	// drafting an artifact or completing an exercise. Nil for plain
	// conversational replies.
	Action *ActionRequest `json:"action,omitempty"`

	// Model and token counts, recorded for observability.
	Model     string `json:"model,omitempty"`
	TokensIn  int    `json:"tokens_in,omitempty"`
	TokensOut int    `json:"tokens_out,omitempty"`
}

// ActionRequest names an action the engine proposes, with its raw
// arguments. The caller decides whether and how to apply it.
type ActionRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}
