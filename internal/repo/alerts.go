package repo

import (
	"context"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

// AlertRecord holds the last status we alerted on for a channel and the last
// time we sent a notification (used for cooldown).
type AlertRecord struct {
	ChannelID  domain.ChannelID `json:"channelId"`
	LastStatus domain.Status    `json:"lastStatus"`
	LastSentAt *time.Time       `json:"lastSentAt,omitempty"`
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// GetAlert returns nil, nil if there's no record yet.
	GetAlert(ctx context.Context, id domain.ChannelID) (*AlertRecord, error)
	// SetAlert upserts the record. If sentAt.IsZero() the send time is cleared.
	SetAlert(ctx context.Context, id domain.ChannelID, status domain.Status, sentAt time.Time) error
}

// NewAlertRecord builds the record SetAlert stores.
func NewAlertRecord(id domain.ChannelID, status domain.Status, sentAt time.Time) AlertRecord {
	r := AlertRecord{ChannelID: id, LastStatus: status}
	if !sentAt.IsZero() {
		t := sentAt.UTC()
		r.LastSentAt = &t
	}
	return r
}
