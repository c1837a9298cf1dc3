package domain

import "context"

// Channel is a messaging platform that delivers upload jobs to the bus and
// renders the replies.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}
