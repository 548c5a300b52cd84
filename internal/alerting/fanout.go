package alerting

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Fanout dispatches one message to every configured channel
// concurrently. A failing channel never blocks the others; all attempts
// complete (or time out via the shared context) before Notify returns.
type Fanout struct {
	channels []Notifier
	logger   zerolog.Logger
}

// NewFanout wires the configured channel notifiers together.
func NewFanout(channels []Notifier, logger zerolog.Logger) *Fanout {
	return &Fanout{
		channels: channels,
		logger:   logger.With().Str("component", "alert_fanout").Logger(),
	}
}

func (f *Fanout) Name() string { return "fanout" }

// Channels reports how many concrete channels are wired.
func (f *Fanout) Channels() int { return len(f.channels) }

// Notify sends the message to all channels and joins their failures.
// The caller treats the message as attempted regardless of the result.
func (f *Fanout) Notify(ctx context.Context, msg Message) error {
	if len(f.channels) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, ch := range f.channels {
		wg.Add(1)
		go func(ch Notifier) {
			defer wg.Done()
			if err := ch.Notify(ctx, msg); err != nil {
				f.logger.Error().Err(err).
					Str("channel", ch.Name()).
					Str("title", msg.Title).
					Msg("channel delivery failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()

	return errors.Join(errs...)
}

var _ Notifier = (*Fanout)(nil)
