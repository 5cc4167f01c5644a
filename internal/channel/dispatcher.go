package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bowerhall/nudge/internal/logger"
	"github.com/bowerhall/nudge/internal/metrics"
)

// Dispatcher routes a message to one of its registered channels
type Dispatcher struct {
	channels       []Channel
	byName         map[string]Channel
	defaultChannel string
	metrics        *metrics.Metrics
}

func NewDispatcher(defaultChannel string, m *metrics.Metrics, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		byName:         make(map[string]Channel),
		defaultChannel: defaultChannel,
		metrics:        m,
	}
	for _, ch := range channels {
		d.Register(ch)
	}
	return d
}

// Register appends a channel. Registration order is the last-resort
// resolution order. A channel with a name already registered replaces it.
func (d *Dispatcher) Register(ch Channel) {
	name := ch.Name()
	if _, ok := d.byName[name]; ok {
		for i, existing := range d.channels {
			if existing.Name() == name {
				d.channels[i] = ch
			}
		}
	} else {
		d.channels = append(d.channels, ch)
	}
	d.byName[name] = ch
}

// Names lists registered channels in resolution order
func (d *Dispatcher) Names() []string {
	out := make([]string, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ch.Name()
	}
	return out
}

func (d *Dispatcher) Channel(name string) (Channel, bool) {
	ch, ok := d.byName[name]
	return ch, ok
}

// candidates orders channels: preferred, then default, then registration order
func (d *Dispatcher) candidates(preferred string) []Channel {
	seen := make(map[string]bool, len(d.channels))
	var out []Channel

	add := func(ch Channel) {
		if ch != nil && !seen[ch.Name()] {
			seen[ch.Name()] = true
			out = append(out, ch)
		}
	}

	if preferred != "" {
		add(d.byName[preferred])
	}
	if d.defaultChannel != "" {
		add(d.byName[d.defaultChannel])
	}
	for _, ch := range d.channels {
		add(ch)
	}
	return out
}

// SendToUser delivers content through the first available channel. When a
// send fails the next available channel is tried. It never panics; total
// failure is reported in the Result.
func (d *Dispatcher) SendToUser(ctx context.Context, userID, content, reminderType, preferred string) Result {
	msg := Message{Content: content, ReminderType: reminderType}

	var attempts []string
	var lastErr error

	for _, ch := range d.candidates(preferred) {
		if !safeAvailable(ctx, ch, userID) {
			continue
		}

		id, err := safeSend(ctx, ch, userID, msg)
		d.metrics.Delivery(ch.Name(), err == nil)
		if err == nil {
			return Result{Success: true, Channel: ch.Name(), MessageID: id}
		}

		logger.Warn("channel send failed", "channel", ch.Name(), "user", userID, "error", err)
		attempts = append(attempts, ch.Name()+": "+err.Error())
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		return Result{
			Success: false,
			Err:     fmt.Errorf("all channels failed for user %s (%s): %w", userID, strings.Join(attempts, "; "), lastErr),
		}
	}

	return Result{
		Success: false,
		Err:     fmt.Errorf("%w for user %s (registered: %s)", ErrNoChannel, userID, strings.Join(d.Names(), ", ")),
	}
}

// IsNoChannel reports whether a result failed because nothing was available
func IsNoChannel(r Result) bool {
	return errors.Is(r.Err, ErrNoChannel)
}
