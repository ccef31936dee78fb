// internal/models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity of a player as resolved by the auth layer.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	IsAdmin  bool      `json:"isAdmin,omitempty"`
}

// PlayerResult is one player's line in a match history record.
type PlayerResult struct {
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
	Score     int       `json:"score"`
	Matches   int       `json:"matches"`
	Rank      int       `json:"rank"`
	IsWinner  bool      `json:"isWinner"`
	LeftEarly bool      `json:"leftEarly"`
}

// OpponentRecord preserves a player's result as captured when they left,
// or at game end for players who stayed.
type OpponentRecord struct {
	UserID         uuid.UUID  `json:"userId"`
	Username       string     `json:"username"`
	Score          int        `json:"score"`
	Matches        int        `json:"matches"`
	LeftEarly      bool       `json:"leftEarly"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// MatchHistory is the immutable record of a finished game.
type MatchHistory struct {
	GameID           uuid.UUID        `json:"gameId"`
	RoomID           uuid.UUID        `json:"roomId"`
	GameMode         string           `json:"gameMode"`
	BoardSize        int              `json:"boardSize"`
	Theme            string           `json:"theme"`
	CompletionReason string           `json:"completionReason"`
	WinnerID         *uuid.UUID       `json:"winnerId,omitempty"`
	Players          []PlayerResult   `json:"players"`
	Opponents        []OpponentRecord `json:"opponents"`
	StartedAt        time.Time        `json:"startedAt"`
	Duration         time.Duration    `json:"duration"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// HistoryFilter selects match history rows for a user.
type HistoryFilter struct {
	UserID   uuid.UUID
	GameMode string // empty = any
	Result   string // "", "win" or "loss"
	Page     int    // 1-based
	PageSize int
}

// Normalize clamps paging fields to sane values.
func (f *HistoryFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
}

// HistoryPage is one page of match history.
type HistoryPage struct {
	Items    []MatchHistory `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// LeaderboardEntry aggregates a user's finished games.
type LeaderboardEntry struct {
	UserID     uuid.UUID `json:"userId"`
	Username   string    `json:"username"`
	Games      int       `json:"games"`
	Wins       int       `json:"wins"`
	TotalScore int       `json:"totalScore"`
}

// SuspiciousActivity is one signal raised against a user.
type SuspiciousActivity struct {
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail,omitempty"`
	RoomID     uuid.UUID `json:"roomId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// BlockEvent is one entry of a user's block history.
type BlockEvent struct {
	Action   string    `json:"action"` // "block" or "unblock"
	Reason   string    `json:"reason"`
	Operator string    `json:"operator,omitempty"`
	At       time.Time `json:"at"`
}

// BlockedUser is a user's block status. Records are never deleted; the
// activity and history logs only grow.
type BlockedUser struct {
	UserID                  uuid.UUID            `json:"userId"`
	IsActive                bool                 `json:"isActive"`
	Reason                  string               `json:"reason"`
	BlockedAt               time.Time            `json:"blockedAt"`
	SuspiciousActivityCount int                  `json:"suspiciousActivityCount"`
	SuspiciousActivities    []SuspiciousActivity `json:"suspiciousActivities"`
	BlockHistory            []BlockEvent         `json:"blockHistory"`
	UnblockedAt             *time.Time           `json:"unblockedAt,omitempty"`
	UnblockedBy             string               `json:"unblockedBy,omitempty"`
	UnblockReason           string               `json:"unblockReason,omitempty"`
}

// GameEndedSummary is published to downstream consumers when a game finishes.
type GameEndedSummary struct {
	GameID           uuid.UUID      `json:"gameId"`
	RoomID           uuid.UUID      `json:"roomId"`
	GameMode         string         `json:"gameMode"`
	CompletionReason string         `json:"completionReason"`
	WinnerID         *uuid.UUID     `json:"winnerId,omitempty"`
	Players          []PlayerResult `json:"players"`
	EndedAt          time.Time      `json:"endedAt"`
}
