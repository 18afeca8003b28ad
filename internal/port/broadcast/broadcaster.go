// Package broadcast defines the port for pushing real-time session updates
// to connected UI clients.
package broadcast

import "context"

// Broadcaster sends a typed event to all clients subscribed to a session.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, sessionID, eventType string, payload any)
}
