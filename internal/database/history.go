// internal/database/history.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memora/internal/models"
)

// MatchHistoryRepository stores finished games.
type MatchHistoryRepository struct {
	db DB
}

func NewMatchHistoryRepository(db DB) *MatchHistoryRepository {
	return &MatchHistoryRepository{db: db}
}

// InsertMatchHistory writes rec. Writing the same game twice is a no-op.
func (r *MatchHistoryRepository) InsertMatchHistory(ctx context.Context, rec models.MatchHistory) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	opponents, err := json.Marshal(rec.Opponents)
	if err != nil {
		return fmt.Errorf("marshal opponents: %w", err)
	}
	ids := make([]string, 0, len(rec.Players))
	for _, p := range rec.Players {
		ids = append(ids, p.UserID.String())
	}
	var winner *string
	if rec.WinnerID != nil {
		w := rec.WinnerID.String()
		winner = &w
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO match_history (game_id, room_id, game_mode, board_size, theme, completion_reason,
			winner_id, player_ids, players, opponents, started_at, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (game_id) DO NOTHING`,
		rec.GameID.String(), rec.RoomID.String(), rec.GameMode, rec.BoardSize, rec.Theme, rec.CompletionReason,
		winner, ids, players, opponents, rec.StartedAt, rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert match history %s: %w", rec.GameID, err)
	}
	return nil
}

// buildHistoryQuery returns the WHERE clause and its arguments for f.
func buildHistoryQuery(f models.HistoryFilter) (string, []any) {
	args := []any{f.UserID.String()}
	conds := []string{"$1 = ANY(player_ids)"}
	if f.GameMode != "" {
		args = append(args, f.GameMode)
		conds = append(conds, fmt.Sprintf("game_mode = $%d", len(args)))
	}
	switch f.Result {
	case "win":
		conds = append(conds, "winner_id::text = $1")
	case "loss":
		conds = append(conds, "(winner_id IS NULL OR winner_id::text <> $1)")
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of a user's games, newest first.
func (r *MatchHistoryRepository) List(ctx context.Context, f models.HistoryFilter) (models.HistoryPage, error) {
	f.Normalize()
	where, args := buildHistoryQuery(f)
	page := models.HistoryPage{Page: f.Page, PageSize: f.PageSize, Items: []models.MatchHistory{}}

	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM match_history "+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count match history: %w", err)
	}

	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT game_id::text, room_id::text, game_mode, board_size, theme, completion_reason,
			winner_id::text, players, opponents, started_at, duration_ms, created_at
		FROM match_history %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return page, fmt.Errorf("query match history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                  models.MatchHistory
			gameID, roomID       string
			winner               *string
			players, opponents   []byte
			durationMs           int64
			startedAt, createdAt time.Time
		)
		if err := rows.Scan(&gameID, &roomID, &rec.GameMode, &rec.BoardSize, &rec.Theme, &rec.CompletionReason,
			&winner, &players, &opponents, &startedAt, &durationMs, &createdAt); err != nil {
			return page, fmt.Errorf("scan match history: %w", err)
		}
		rec.GameID, _ = uuid.Parse(gameID)
		rec.RoomID, _ = uuid.Parse(roomID)
		if winner != nil {
			if id, err := uuid.Parse(*winner); err == nil {
				rec.WinnerID = &id
			}
		}
		if err := json.Unmarshal(players, &rec.Players); err != nil {
			return page, fmt.Errorf("decode players of %s: %w", gameID, err)
		}
		if err := json.Unmarshal(opponents, &rec.Opponents); err != nil {
			return page, fmt.Errorf("decode opponents of %s: %w", gameID, err)
		}
		rec.StartedAt = startedAt
		rec.CreatedAt = createdAt
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		page.Items = append(page.Items, rec)
	}
	return page, rows.Err()
}

// Leaderboard ranks users by wins, then total score.
func (r *MatchHistoryRepository) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT p->>'userId', max(p->>'username'), count(*),
			sum(CASE WHEN (p->>'isWinner')::boolean THEN 1 ELSE 0 END),
			sum((p->>'score')::int)
		FROM match_history, jsonb_array_elements(players) AS p
		GROUP BY p->>'userId'
		ORDER BY 4 DESC, 5 DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	out := []models.LeaderboardEntry{}
	for rows.Next() {
		var (
			e  models.LeaderboardEntry
			id string
		)
		if err := rows.Scan(&id, &e.Username, &e.Games, &e.Wins, &e.TotalScore); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		e.UserID, _ = uuid.Parse(id)
		out = append(out, e)
	}
	return out, rows.Err()
}
