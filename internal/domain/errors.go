package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")

	// ErrAuth marks credential and session failures that are shown to the user.
	ErrAuth = errors.New("authentication failed")
	// ErrProfileFetch marks a failed profile lookup. Callers fall back to a
	// cached or degraded profile instead of failing.
	ErrProfileFetch = errors.New("profile fetch failed")
	// ErrQuery marks a failed read against the record store.
	ErrQuery = errors.New("query failed")
	// ErrSubscription marks a realtime subscription that could not be
	// established or was closed underneath its consumer.
	ErrSubscription = errors.New("subscription failed")
)
