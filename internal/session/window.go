package session

// contextRelevant is the set of event types that feed the reasoning
// engine. Everything else (raw model request bodies, telemetry, error
// and checkpoint markers) exists for audit and metrics only and must
// not bloat the engine's input.
var contextRelevant = map[EventType]bool{
	EventUserInput:     true,
	EventActionCall:    true,
	EventActionResult:  true,
	EventModelResponse: true,
	EventKnowledge:     true,
	EventArtifactRef:   true,
}

// ContextRelevant reports whether events of type t belong in the
// context window.
func ContextRelevant(t EventType) bool {
	return contextRelevant[t]
}

// buildWindow filters events down to the context-relevant subset. The
// input slice must already be ordered ascending by seq and start at the
// session's context start sequence.
func buildWindow(sess *Session, events []*Event) *ContextWindow {
	w := &ContextWindow{
		SessionID: sess.ID,
		OwnerID:   sess.OwnerID,
		Kind:      sess.Kind,
		StartSeq:  sess.ContextStartSeq,
		EndSeq:    sess.EventCount,
		Events:    make([]*Event, 0, len(events)),
	}
	for _, ev := range events {
		if ContextRelevant(ev.Type) {
			w.Events = append(w.Events, ev)
		}
	}
	return w
}
