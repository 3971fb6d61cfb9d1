package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/repo"
)

// ---- AlertStore ----

func (s *Store) GetAlert(ctx context.Context, id domain.ChannelID) (*repo.AlertRecord, error) {
	var (
		status   string
		lastSent *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT last_status, last_sent_at FROM alerts WHERE channel_id = @channel`,
		pgx.NamedArgs{"channel": string(id)},
	).Scan(&status, &lastSent)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &repo.AlertRecord{ChannelID: id, LastStatus: domain.Status(status), LastSentAt: lastSent}, nil
}

// SetAlert upserts the alert row. A zero sentAt clears the send time so the
// next down alert is not held back by the cooldown.
func (s *Store) SetAlert(ctx context.Context, id domain.ChannelID, status domain.Status, sentAt time.Time) error {
	rec := repo.NewAlertRecord(id, status, sentAt)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (channel_id, last_status, last_sent_at)
		VALUES (@channel, @status, @sent)
		ON CONFLICT (channel_id)
		DO UPDATE SET last_status = EXCLUDED.last_status, last_sent_at = EXCLUDED.last_sent_at`,
		pgx.NamedArgs{"channel": string(id), "status": string(rec.LastStatus), "sent": rec.LastSentAt},
	)
	return err
}
