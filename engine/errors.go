package engine

import "errors"

// Validation errors. Every operation that returns one of these leaves the
// game state unchanged.
var (
	ErrInvalidBoardSize   = errors.New("invalid board size")
	ErrUnknownTheme       = errors.New("unknown theme")
	ErrNotPlaying         = errors.New("game is not in progress")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrPlayerInactive     = errors.New("player has left or been eliminated")
	ErrUnknownPlayer      = errors.New("unknown player")
	ErrUnknownCard        = errors.New("unknown card")
	ErrCardUnavailable    = errors.New("card is already flipped or matched")
	ErrBufferFull         = errors.New("two cards are already face up")
	ErrNothingToResolve   = errors.New("no mismatch to resolve")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrRoomFull           = errors.New("room is full")
	ErrAlreadySeated      = errors.New("player already seated")
	ErrNotSeated          = errors.New("player is not seated")
	ErrNotWaiting         = errors.New("game has already started")
	ErrNotEnoughPlayers   = errors.New("not enough ready players")
	ErrPowerUpUnavailable = errors.New("power-up not held")
	ErrPowerUpMode        = errors.New("power-up not usable in this mode")
	ErrInvalidTarget      = errors.New("invalid power-up target")
	ErrUnknownPowerUp     = errors.New("unknown power-up")
)
