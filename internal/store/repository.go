package store

import (
	"context"
	"time"

	"chatcore/internal/model"
)

// Repository persists directed message views.
type Repository interface {
	// InsertView stores msg under view. Storing the same message again is a
	// no-op reported as inserted == false; a different message with the same
	// id fails with model.ErrMessageConflict.
	InsertView(ctx context.Context, view model.View, msg model.Message) (inserted bool, err error)

	// ListView returns up to limit messages of view created strictly after
	// after (all when after is zero), oldest first.
	ListView(ctx context.Context, view model.View, after time.Time, limit int) ([]model.Message, error)

	// FindMessage returns any stored view of the message with the given id,
	// or model.ErrMessageNotFound.
	FindMessage(ctx context.Context, messageID string) (model.Message, error)

	// LatestTimestamp returns the newest creation time stored in either view
	// of the pair, or the zero time.
	LatestTimestamp(ctx context.Context, a, b string) (time.Time, error)
}
