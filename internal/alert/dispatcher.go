package alert

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// Dispatcher decides whether a state change is sent and hands it to the
// Notifier. A key notified within the cooldown is muted.
type Dispatcher struct {
	notifier Notifier
	cooldown time.Duration
	muted    *cache.Cache
}

// NewDispatcher creates a dispatcher. A cooldown of zero disables muting.
func NewDispatcher(notifier Notifier, cooldown time.Duration) *Dispatcher {
	d := &Dispatcher{notifier: notifier, cooldown: cooldown}
	if cooldown > 0 {
		d.muted = cache.New(cooldown, 2*cooldown)
	}
	return d
}

// Dispatch notifies message for key. It returns nil without sending when
// notifications are disabled or the key is muted.
//
// Parameters:
//   - ctx: Context for cancellation
//   - key: State key the message belongs to
//   - message: Text to send
//   - enabled: The inventory's notifications switch
//
// Returns:
//   - bool: Whether a delivery was attempted
//   - error: Delivery failure, typically *NotificationError
func (d *Dispatcher) Dispatch(ctx context.Context, key, message string, enabled bool) (bool, error) {
	if !enabled {
		log.Debug().Str("key", key).Msg("Notifications disabled, skipping alert")
		return false, nil
	}

	if d.muted != nil {
		if _, has := d.muted.Get(key); has {
			log.Debug().Str("key", key).Str("message", message).Msg("Alert muted by cooldown")
			return false, nil
		}
		d.muted.Set(key, time.Now(), cache.DefaultExpiration)
	}

	log.Info().Str("key", key).Str("message", message).Msg("Sending alert")
	if err := d.notifier.Notify(ctx, message); err != nil {
		return true, err
	}
	return true, nil
}
