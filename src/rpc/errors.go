package rpc

import "errors"

var (
	// ErrRateLimitExceeded is returned when a peer runs out of tokens
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrPeerBanned is returned for requests from a banned peer
	ErrPeerBanned = errors.New("peer is banned")

	// ErrInvalidRequest is returned when a request field cannot be decoded
	ErrInvalidRequest = errors.New("invalid request")

	// ErrServerStopped is returned when starting a server twice or after Stop
	ErrServerStopped = errors.New("server is stopped")
)
