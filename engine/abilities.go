package engine

import "time"

// PowerUpDef describes one power-up type.
type PowerUpDef struct {
	Type        PowerUpType   `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Duration    time.Duration `json:"duration,omitempty"` // timed effects only; Rules override
	Uses        int           `json:"uses"`

	TurnBound  bool   `json:"-"` // requires the holder's turn
	MovesBoard bool   `json:"-"` // requires an empty flip buffer
	NotIn      []Mode `json:"-"`
}

// PowerUpCatalog is the fixed set of power-ups.
var PowerUpCatalog = map[PowerUpType]PowerUpDef{
	PowerUpExtraTurn: {
		Type: PowerUpExtraTurn, Name: "Extra Turn", Icon: "repeat", Uses: 1,
		Description: "Keep your turn after your next mismatch.",
		TurnBound:   true,
	},
	PowerUpPeek: {
		Type: PowerUpPeek, Name: "Peek", Icon: "eye", Uses: 1, Duration: 3 * time.Second,
		Description: "Privately look at one unmatched card.",
	},
	PowerUpSwap: {
		Type: PowerUpSwap, Name: "Swap", Icon: "arrows", Uses: 1,
		Description: "Exchange the positions of two face-down cards.",
		TurnBound:   true, MovesBoard: true,
	},
	PowerUpRevealOne: {
		Type: PowerUpRevealOne, Name: "Reveal", Icon: "lightbulb", Uses: 1,
		Description: "Turn one card face up for everyone.",
		TurnBound:   true,
	},
	PowerUpFreeze: {
		Type: PowerUpFreeze, Name: "Freeze", Icon: "snowflake", Uses: 1, Duration: 10 * time.Second,
		Description: "Freeze an opponent's turn timer.",
		TurnBound:   true,
		NotIn:       []Mode{ModeBlitz},
	},
	PowerUpShuffle: {
		Type: PowerUpShuffle, Name: "Shuffle", Icon: "shuffle", Uses: 1,
		Description: "Reshuffle every face-down card.",
		TurnBound:   true, MovesBoard: true,
	},
}

func (d PowerUpDef) usableIn(m Mode) bool {
	for _, x := range d.NotIn {
		if x == m {
			return false
		}
	}
	return true
}

// PowerUpRequest carries the arguments of a power-up use. Unused fields are ignored.
type PowerUpRequest struct {
	Type         PowerUpType
	CardID       int
	SecondCardID int
	Target       int // player index for freeze; NoPlayer picks the next opponent
}

// PowerUpResult describes an applied power-up. PeekCard is private to the user.
type PowerUpResult struct {
	Type          PowerUpType
	Player        int
	PeekCard      *Card
	PeekUntil     time.Time
	Swapped       [2]int
	Revealed      int
	FrozenPlayer  int
	FrozenUntil   time.Time
	Shuffled      []int // positions whose contents were re-dealt
	RemainingUses int
}

// UsePowerUp validates and applies a held power-up. An invalid request
// changes nothing.
func (g *GameState) UsePowerUp(player int, req PowerUpRequest, now time.Time) (PowerUpResult, error) {
	if g.Status != StatusPlaying {
		return PowerUpResult{}, ErrNotPlaying
	}
	if player < 0 || player >= len(g.Players) {
		return PowerUpResult{}, ErrUnknownPlayer
	}
	if !g.Players[player].Contending() {
		return PowerUpResult{}, ErrPlayerInactive
	}
	def, ok := PowerUpCatalog[req.Type]
	if !ok {
		return PowerUpResult{}, ErrUnknownPowerUp
	}
	held := g.heldIndex(player, req.Type)
	if held < 0 {
		return PowerUpResult{}, ErrPowerUpUnavailable
	}
	if !def.usableIn(g.Rules.Mode) {
		return PowerUpResult{}, ErrPowerUpMode
	}
	if def.TurnBound && player != g.CurrentPlayer {
		return PowerUpResult{}, ErrNotYourTurn
	}
	if def.MovesBoard && len(g.FlipBuffer) > 0 {
		return PowerUpResult{}, ErrBufferFull
	}

	res := PowerUpResult{Type: req.Type, Player: player, Revealed: -1, FrozenPlayer: NoPlayer}
	switch req.Type {
	case PowerUpExtraTurn:
		// a pending mismatch is already decided; the credit only covers later ones
		if len(g.FlipBuffer) == 2 {
			return PowerUpResult{}, ErrBufferFull
		}
		g.Players[player].ExtraTurns++

	case PowerUpPeek:
		if !g.validCard(req.CardID) || g.Board[req.CardID].IsMatched {
			return PowerUpResult{}, ErrInvalidTarget
		}
		g.Board[req.CardID].Seen = true
		c := g.Board[req.CardID]
		res.PeekCard = &c
		res.PeekUntil = now.Add(g.Rules.PeekDuration)

	case PowerUpSwap:
		a, b := req.CardID, req.SecondCardID
		if a == b || !g.validCard(a) || !g.validCard(b) ||
			!g.Board[a].faceDown() || !g.Board[b].faceDown() {
			return PowerUpResult{}, ErrInvalidTarget
		}
		g.Board[a], g.Board[b] = g.Board[b], g.Board[a]
		g.Board[a].ID, g.Board[b].ID = a, b
		res.Swapped = [2]int{a, b}

	case PowerUpRevealOne:
		if !g.validCard(req.CardID) || !g.Board[req.CardID].faceDown() || g.Board[req.CardID].Revealed {
			return PowerUpResult{}, ErrInvalidTarget
		}
		g.Board[req.CardID].Revealed = true
		res.Revealed = req.CardID

	case PowerUpFreeze:
		target := req.Target
		if target == NoPlayer {
			target = g.nextEligible(player)
		}
		if target < 0 || target >= len(g.Players) || target == player || !g.Players[target].Contending() {
			return PowerUpResult{}, ErrInvalidTarget
		}
		g.Players[target].FrozenUntil = now.Add(g.Rules.FreezeDuration)
		res.FrozenPlayer = target
		res.FrozenUntil = g.Players[target].FrozenUntil

	case PowerUpShuffle:
		res.Shuffled = g.shuffleFaceDown()
	}

	res.RemainingUses = g.consumePowerUp(player, held)
	g.LastActivity = now
	return res, nil
}

func (g *GameState) validCard(id int) bool { return id >= 0 && id < len(g.Board) }

// shuffleFaceDown re-deals the contents of every face-down card among their positions.
func (g *GameState) shuffleFaceDown() []int {
	var pos []int
	for i := range g.Board {
		if g.Board[i].faceDown() {
			pos = append(pos, i)
		}
	}
	cards := make([]Card, len(pos))
	for i, p := range pos {
		cards[i] = g.Board[p]
	}
	g.rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	for i, p := range pos {
		cards[i].ID = p
		cards[i].Seen = false
		g.Board[p] = cards[i]
	}
	return pos
}

func (g *GameState) heldIndex(player int, t PowerUpType) int {
	for i, h := range g.Players[player].PowerUps {
		if h.Type == t && h.Uses > 0 {
			return i
		}
	}
	return -1
}

// consumePowerUp spends one use and drops the power-up at zero. Returns the uses left.
func (g *GameState) consumePowerUp(player, held int) int {
	p := &g.Players[player]
	p.PowerUps[held].Uses--
	left := p.PowerUps[held].Uses
	if left <= 0 {
		p.PowerUps = append(p.PowerUps[:held], p.PowerUps[held+1:]...)
	}
	return left
}

// grantPowerUp adds one charge set of t to the player's held power-ups.
func (g *GameState) grantPowerUp(player int, t PowerUpType) {
	def, ok := PowerUpCatalog[t]
	if !ok {
		return
	}
	p := &g.Players[player]
	for i := range p.PowerUps {
		if p.PowerUps[i].Type == t {
			p.PowerUps[i].Uses += def.Uses
			return
		}
	}
	p.PowerUps = append(p.PowerUps, HeldPowerUp{Type: t, Uses: def.Uses})
}

// GrantPowerUp gives a player a power-up outside of a match, e.g. by an operator.
func (g *GameState) GrantPowerUp(player int, t PowerUpType) error {
	if player < 0 || player >= len(g.Players) {
		return ErrUnknownPlayer
	}
	if _, ok := PowerUpCatalog[t]; !ok {
		return ErrUnknownPowerUp
	}
	g.grantPowerUp(player, t)
	return nil
}
