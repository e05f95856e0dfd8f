package app

import "errors"

var (
	ErrInvalidMessage = errors.New("messageId and senderId required")
	// ErrQueueUnavailable means the app was built without a job queue.
	ErrQueueUnavailable = errors.New("job queue not configured")
)
