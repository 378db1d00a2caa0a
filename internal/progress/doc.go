// Package progress keeps the live run counters shown in progress log lines
// and served by the status endpoint.
package progress
