package chat

import "errors"

var (
	// ErrUnauthorized means no resolvable caller identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrQuotaExceeded means the daily response cap is reached. It is
	// raised before any model call or message write.
	ErrQuotaExceeded = errors.New("daily response limit reached")

	// ErrNotFound covers rows that do not exist or belong to someone
	// else.
	ErrNotFound = errors.New("not found")

	// ErrEmptyPrompt rejects blank chat messages.
	ErrEmptyPrompt = errors.New("message is required")

	// ErrRunInFlight rejects a second concurrent run on the same
	// conversation.
	ErrRunInFlight = errors.New("a run is already in flight for this conversation")
)
