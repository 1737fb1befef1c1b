package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrRateLimited    = errors.New("rate limited")
)
