// Package events publishes finished-game summaries for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/memora/internal/models"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// SubjectGameEnded carries models.GameEndedSummary payloads.
const SubjectGameEnded = "memora.game.ended"

// Publisher sends outcome events.
type Publisher interface {
	PublishGameEnded(ctx context.Context, summary models.GameEndedSummary) error
	Close()
}

// NATSPublisher publishes over a NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// ConnectNATS connects to url. An empty url yields a no-op publisher.
func ConnectNATS(url string) (Publisher, error) {
	if url == "" {
		log.Printf("Events: NATS_URL not set; outcome events disabled.")
		return Noop{}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("memora"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("Events: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("Events: NATS reconnected to %s.", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	log.Printf("Connected to NATS at %s.", nc.ConnectedUrl())
	return &NATSPublisher{nc: nc}, nil
}

// PublishGameEnded implements Publisher.
func (p *NATSPublisher) PublishGameEnded(ctx context.Context, summary models.GameEndedSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal game summary: %w", err)
	}
	if err := p.nc.Publish(SubjectGameEnded, data); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectGameEnded, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warnf("Events: NATS drain failed: %v", err)
		p.nc.Close()
	}
}

// Noop discards every event.
type Noop struct{}

func (Noop) PublishGameEnded(context.Context, models.GameEndedSummary) error { return nil }
func (Noop) Close() {}

// Summarize converts a history record into the published summary.
func Summarize(rec models.MatchHistory, endedAt time.Time) models.GameEndedSummary {
	return models.GameEndedSummary{
		GameID:           rec.GameID,
		RoomID:           rec.RoomID,
		GameMode:         rec.GameMode,
		CompletionReason: rec.CompletionReason,
		WinnerID:         rec.WinnerID,
		Players:          rec.Players,
		EndedAt:          endedAt,
	}
}
