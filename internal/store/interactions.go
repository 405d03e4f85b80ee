package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Interaction directions.
const (
	DirectionIncoming = "INCOMING"
	DirectionOutgoing = "OUTGOING"
)

// Interaction is one inbound or outbound message in the interaction log.
type Interaction struct {
	ID        string
	Address   string
	Channel   string
	Direction string
	Kind      string
	Content   string
	OK        bool
	CreatedAt time.Time
}

// AppendInteraction writes e, generating ID and CreatedAt when unset.
func (s *Store) AppendInteraction(ctx context.Context, e *Interaction) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, address, channel, direction, kind, content, ok, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Address, e.Channel, e.Direction, e.Kind, e.Content, e.OK, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

// RecentInteractions returns the latest interactions of address, newest first.
func (s *Store) RecentInteractions(ctx context.Context, address string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, channel, direction, kind, content, ok, created_at
		FROM interactions WHERE address = ?
		ORDER BY created_at DESC LIMIT ?`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var e Interaction
		var created int64
		if err := rows.Scan(&e.ID, &e.Address, &e.Channel, &e.Direction, &e.Kind, &e.Content, &e.OK, &created); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
