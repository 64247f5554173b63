package state

import "errors"

// Chain engine errors.
var (
	// ErrUnknownParent is returned when a block references a parent this
	// node has never seen. The caller should trigger a sync.
	ErrUnknownParent = errors.New("unknown parent block")

	// ErrAlreadyHave is returned when a block is already part of the
	// canonical chain.
	ErrAlreadyHave = errors.New("block already known")

	// ErrReorgFailed is returned when a heavier branch could not be applied.
	ErrReorgFailed = errors.New("reorganization failed")

	// ErrMiningDisabled is returned when a mining operation is requested
	// while the miner is off.
	ErrMiningDisabled = errors.New("mining is disabled")
)
