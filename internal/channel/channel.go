package channel

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoChannel   = errors.New("no channel available")
	ErrNoRecipient = errors.New("no recipient configured")
)

// Message is a rendered notification ready for delivery
type Message struct {
	Content      string
	ReminderType string
}

// Channel is one delivery mechanism. CheckAvailable must be cheap; it is
// called before every send.
type Channel interface {
	Name() string
	Send(ctx context.Context, userID string, msg Message) (messageID string, err error)
	CheckAvailable(ctx context.Context, userID string) bool
}

// BatchSender is implemented by channels that can deliver many messages in
// one call
type BatchSender interface {
	SendBatch(ctx context.Context, deliveries []Delivery) []Result
}

type Delivery struct {
	UserID  string
	Message Message
}

// Result reports the outcome of one delivery. Err is set when Success is false.
type Result struct {
	Success   bool
	Channel   string
	MessageID string
	Err       error
}

func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// SendBatch delivers through ch, using its native batching when it has one
func SendBatch(ctx context.Context, ch Channel, deliveries []Delivery) []Result {
	if b, ok := ch.(BatchSender); ok {
		return b.SendBatch(ctx, deliveries)
	}

	out := make([]Result, 0, len(deliveries))
	for _, d := range deliveries {
		id, err := safeSend(ctx, ch, d.UserID, d.Message)
		out = append(out, Result{Success: err == nil, Channel: ch.Name(), MessageID: id, Err: err})
	}
	return out
}

// safeSend turns a panicking channel into an error
func safeSend(ctx context.Context, ch Channel, userID string, msg Message) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s channel panicked: %v", ch.Name(), r)
		}
	}()
	return ch.Send(ctx, userID, msg)
}

func safeAvailable(ctx context.Context, ch Channel, userID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return ch.CheckAvailable(ctx, userID)
}
