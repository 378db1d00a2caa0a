package harvest

import (
	"errors"
)

var (
	// ErrRetriesExhausted is returned when a request failed more times than the
	// configured retry limit. It is fatal for the whole run.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrEmptyWorkSource is returned when no item identifiers could be obtained.
	ErrEmptyWorkSource = errors.New("work source produced no item identifiers")

	// ErrPersistence wraps every failure to read or write durable crawl state.
	ErrPersistence = errors.New("persistence failure")

	// ErrMalformedPayload marks a response that could not be classified.
	// The item is left unresolved.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrQueueClosed is returned by queues that will not yield more ids.
	ErrQueueClosed = errors.New("queue closed")
)

// IsFatal reports whether err must stop a driver.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRetriesExhausted) || errors.Is(err, ErrPersistence)
}
