package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/repo"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
}

// Alerter turns outage events into notifications. Down alerts respect the
// cooldown; recovery alerts bypass it. Alert state lives in an AlertStore so
// a restarted process does not repeat itself.
type Alerter struct {
	alertDB  repo.AlertStore
	notifier Notifier
	cfg      AlerterConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewAlerter(alertDB repo.AlertStore, notifier Notifier, cfg AlerterConfig, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (a *Alerter) Subscribe(bus *events.Bus) *events.Subscription {
	return bus.SubscribeDurable("alerter", events.OutageOpened, events.OutageClosed)
}

// Handle processes one outage event. Mirrored events are ignored: only the
// instance that probed alerts.
func (a *Alerter) Handle(ctx context.Context, e events.Event) {
	if e.Mirrored || e.Outage == nil {
		return
	}
	var status domain.Status
	switch e.Kind {
	case events.OutageOpened:
		status = domain.StatusOffline
	case events.OutageClosed:
		status = domain.StatusOnline
	default:
		return
	}
	if err := a.decide(ctx, e.ChannelID, status, *e.Outage); err != nil {
		a.log.Warn("alert_failed", zap.String("channel_id", string(e.ChannelID)), zap.Error(err))
	}
}

func (a *Alerter) decide(ctx context.Context, id domain.ChannelID, status domain.Status, o domain.Outage) error {
	rec, err := a.alertDB.GetAlert(ctx, id)
	if err != nil {
		return fmt.Errorf("get alert: %w", err)
	}
	now := a.now()

	// Has the status changed compared to what we last recorded?
	stateChanged := rec == nil || rec.LastStatus != status

	// Cooldown only matters for DOWN alerts (suppresses noisy repeats).
	cooled := true
	if rec != nil && rec.LastSentAt != nil {
		cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
	}

	down := status == domain.StatusOffline
	downAlert := stateChanged && down && cooled
	recoveryAlert := stateChanged && !down && a.cfg.AlertOnRecovery && rec != nil

	if downAlert || recoveryAlert {
		title, text := message(id, o)
		if err := a.notifier.Send(ctx, title, text); err != nil {
			a.log.Warn("alert_send_failed", zap.String("channel_id", string(id)), zap.Error(err))
		} else {
			a.log.Info("alert_sent", zap.String("channel_id", string(id)), zap.String("status", string(status)))
		}
		return a.alertDB.SetAlert(ctx, id, status, now)
	}

	// State changed but nothing sent: record it without a send time.
	if stateChanged {
		return a.alertDB.SetAlert(ctx, id, status, time.Time{})
	}
	return nil
}

func message(id domain.ChannelID, o domain.Outage) (string, string) {
	reason := o.Reason
	if reason == "" {
		reason = "n/a"
	}
	if o.Open() {
		text := fmt.Sprintf(
			"Channel: %s\nReason: %s\nFirst failure: %s\nConfirmed after: %d failures",
			id, reason, o.FirstFailureTime.Format(time.RFC3339), o.FailureCountBeforeConfirmation,
		)
		return "🔴 Channel DOWN", text
	}
	down := o.ActualDuration
	if down == 0 {
		down = o.Duration
	}
	text := fmt.Sprintf(
		"Channel: %s\nReason: %s\nDown for: %s\nRecovered: %s",
		id, reason, down.Round(time.Second), o.EndTime.Format(time.RFC3339),
	)
	return "🟢 Channel RECOVERED", text
}
