// Package notify delivers best-effort operational notifications (unread
// digests, stream-failure alerts) to chat platforms. Each adapter wraps
// one platform behind a mockable client seam.
package notify

import "context"

// Adapter is a single notification sink.
type Adapter interface {
	// Name identifies the platform, e.g. "slack".
	Name() string
	// Send delivers one plain-text notification.
	Send(ctx context.Context, text string) error
}
