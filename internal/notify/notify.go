package notify

import (
	"context"

	"go.uber.org/multierr"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans out to every notifier and reports all failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}

// Log is a Notifier that only writes to the process log. Used when no
// webhook is configured so alert decisions stay visible.
type Log struct {
	Logf func(title, text string)
}

func (l Log) Send(_ context.Context, title, text string) error {
	if l.Logf != nil {
		l.Logf(title, text)
	}
	return nil
}
