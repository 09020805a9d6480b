package engagement

import (
	"context"
	"errors"

	"engagement-chat-sdk/internal/entity"
)

// Provider is the REST side of the engagement backend. Implementations live
// outside this module; the engine only needs these three calls.
type Provider interface {
	// FetchHistory returns one page of transcript history, oldest first.
	// A short page signals the end.
	FetchHistory(ctx context.Context, page, pageSize int) ([]entity.Message, error)

	// Submit sends a visitor message and returns the acknowledged message.
	// The returned ID matches the client-generated id of the outgoing message.
	Submit(ctx context.Context, out entity.OutgoingMessage) (entity.Message, error)

	// SubmitCardResponse sends a single-choice card selection.
	SubmitCardResponse(ctx context.Context, cardMessageID, option string) (entity.Message, error)
}

// AuthError marks a session/authentication failure. These are not retryable
// from the engine's point of view and are surfaced to the host application.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "engagement: authentication failed"
	}
	return "engagement: authentication failed: " + e.Reason
}

// IsAuthError reports whether err wraps an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
