// internal/game/commands.go
package game

import (
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/models"
)

// Command is one input to a session. The set is closed: only the types in
// this file implement it, and the session dispatches on the concrete type.
type Command interface {
	isCommand()
}

// Join seats a user while the room is waiting.
type Join struct {
	User models.User
}

// Leave removes a user. Before the game starts the seat is freed; afterwards
// the player is marked as having left early.
type Leave struct {
	UserID uuid.UUID
}

// Ready sets a seated user's ready flag. The game starts once all are ready.
type Ready struct {
	UserID uuid.UUID
	Ready  bool
}

// Flip turns a card face up.
type Flip struct {
	UserID uuid.UUID
	CardID int
}

// UsePowerUp applies a held power-up. Target is only used by freeze;
// uuid.Nil selects the next opponent.
type UsePowerUp struct {
	UserID       uuid.UUID
	Type         engine.PowerUpType
	CardID       int
	SecondCardID int
	Target       uuid.UUID
}

// Chat appends a message to the room chat.
type Chat struct {
	UserID uuid.UUID
	Text   string
}

// Disconnect records that a seated user lost their connection.
// Seq orders it against Reconnect; a zero Seq is always applied.
type Disconnect struct {
	UserID uuid.UUID
	Seq    uint64
}

// Reconnect records that a seated user is connected again and resends the state.
type Reconnect struct {
	UserID uuid.UUID
	Seq    uint64
}

// GraceExpired marks a disconnected user as left.
type GraceExpired struct {
	UserID uuid.UUID
}

// Abort ends the game without a winner.
type Abort struct {
	Reason string
}

// Internal commands, enqueued by the session's own timers.
type (
	resolveMismatch struct{ turnID int }
	turnTimeout     struct{ turnID int }
	clockTick       struct{}
	snapshotQuery   struct {
		UserID uuid.UUID
		out    *ObfGameState
	}
	stateQuery struct{ out **engine.GameState }
)

func (Join) isCommand()            {}
func (Leave) isCommand()           {}
func (Ready) isCommand()           {}
func (Flip) isCommand()            {}
func (UsePowerUp) isCommand()      {}
func (Chat) isCommand()            {}
func (Disconnect) isCommand()      {}
func (Reconnect) isCommand()       {}
func (GraceExpired) isCommand()    {}
func (Abort) isCommand()           {}
func (resolveMismatch) isCommand() {}
func (turnTimeout) isCommand()     {}
func (clockTick) isCommand()       {}
func (snapshotQuery) isCommand()   {}
func (stateQuery) isCommand()      {}
