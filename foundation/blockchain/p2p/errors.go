package p2p

import "errors"

// Peer level errors.
var (
	ErrHandshakeFailed   = errors.New("handshake failed")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrTimeout           = errors.New("peer timed out")
	ErrRateLimited       = errors.New("peer exceeded rate limit")
	ErrBanned            = errors.New("peer is banned")
	ErrTooManyPeers      = errors.New("peer limit reached")
	ErrQueueOverflow     = errors.New("peer send queue overflow")
)
