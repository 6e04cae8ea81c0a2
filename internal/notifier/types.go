package notifier

import (
	"context"
	"time"

	"taskbot/internal/transport"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int // reply traffic only; 0 means a single attempt
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	SendTimeout     time.Duration
}

type Kind string

const (
	KindReminder Kind = "reminder"
	KindSummary  Kind = "summary"
	KindNudge    Kind = "nudge"
	KindReply    Kind = "reply"
)

// singleAttempt reports whether deliveries of this kind skip retries. A
// reminder that timed out may already have reached the user, so scheduled
// traffic is sent at most once.
func (k Kind) singleAttempt() bool {
	switch k {
	case KindReminder, KindSummary, KindNudge:
		return true
	}
	return false
}

// Delivery is one outbound message for a user. Text and Image may both be
// set; they become two sends.
type Delivery struct {
	ID       string
	UserID   int64
	Kind     Kind
	Text     string
	Image    []byte // PNG
	Caption  string
	Options  *transport.SendOptions
	DedupKey string
}

// Sender is the subset of transport.Adapter the notifier needs.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type HistoryItem struct {
	At     time.Time
	ID     string
	UserID int64
	Kind   Kind
	Part   string
}

// DeliveryEvent is published on the event bus for delivery lifecycle events.
type DeliveryEvent struct {
	ID     string `json:"id"`
	UserID int64  `json:"user_id"`
	Kind   Kind   `json:"kind"`
	Part   string `json:"part,omitempty"` // text | photo
	Key    string `json:"key,omitempty"`
	Error  string `json:"error,omitempty"`
}
