package engine

import (
	"fmt"
	"math/rand/v2"
)

// themes maps a theme tag to its pool of card values. Each pool holds at
// least BoardLarge/2 distinct values.
var themes = map[string][]string{
	"animals": {
		"cat", "dog", "owl", "fox", "bear", "wolf", "lion", "tiger",
		"panda", "koala", "otter", "seal", "whale", "shark", "eagle", "hawk",
		"crow", "swan", "duck", "frog", "toad", "snake", "lizard", "turtle",
		"rabbit", "mouse", "horse", "zebra", "camel", "llama", "goat", "sheep",
	},
	"fruits": {
		"apple", "pear", "plum", "peach", "cherry", "grape", "lemon", "lime",
		"orange", "mango", "kiwi", "melon", "banana", "papaya", "guava", "fig",
		"date", "apricot", "coconut", "lychee", "olive", "quince", "raspberry", "blueberry",
		"strawberry", "cranberry", "pineapple", "pomegranate", "tangerine", "nectarine", "persimmon", "durian",
	},
	"symbols": {
		"star", "moon", "sun", "cloud", "bolt", "drop", "leaf", "flame",
		"heart", "diamond", "club", "spade", "anchor", "bell", "crown", "key",
		"lock", "gear", "flag", "shield", "sword", "bow", "arrow", "compass",
		"hourglass", "feather", "gem", "ring", "skull", "rose", "tree", "wave",
	},
}

// Themes returns the supported theme tags.
func Themes() []string {
	out := make([]string, 0, len(themes))
	for k := range themes {
		out = append(out, k)
	}
	return out
}

// GenerateBoard builds a shuffled board for the given rules. Every value
// occupies exactly two cells. When power-ups are enabled, BoardSize/EmbedDivisor
// cards are tagged with a power-up drawn from the pool.
// It never touches game state.
func GenerateBoard(rules Rules, rng *rand.Rand) ([]Card, error) {
	if !validBoardSize(rules.BoardSize) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBoardSize, rules.BoardSize)
	}
	values, ok := themes[rules.Theme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTheme, rules.Theme)
	}
	pairs := rules.BoardSize / 2
	if len(values) < pairs {
		return nil, fmt.Errorf("theme %q has %d values, need %d", rules.Theme, len(values), pairs)
	}

	// Pick which values take part, so small boards are not always the same eight.
	picked := append([]string(nil), values...)
	rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	picked = picked[:pairs]

	board := make([]Card, 0, rules.BoardSize)
	for _, v := range picked {
		board = append(board, Card{Value: v, Theme: rules.Theme}, Card{Value: v, Theme: rules.Theme})
	}

	// Fisher-Yates.
	for i := len(board) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		board[i], board[j] = board[j], board[i]
	}
	for i := range board {
		board[i].ID = i
	}

	if rules.PowerUpsEnabled && len(rules.PowerUpPool) > 0 && rules.EmbedDivisor > 0 {
		n := rules.BoardSize / rules.EmbedDivisor
		for _, pos := range rng.Perm(len(board))[:n] {
			board[pos].PowerUp = rules.PowerUpPool[rng.IntN(len(rules.PowerUpPool))]
		}
	}
	return board, nil
}
