package notify

import (
	"time"
)

// Notification is the best-effort message raised for every applied event.
type Notification struct {
	Type      string    `json:"type"`
	OrderID   uint64    `json:"orderId"`
	TxHash    string    `json:"txHash"`
	Height    uint64    `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher must never block the caller.
type Publisher interface {
	Publish(n Notification)
}

type Nop struct{}

func (Nop) Publish(Notification) {}

// Recorder keeps every notification it receives.
type Recorder struct {
	ch chan Notification
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Notification, size)}
}

func (r *Recorder) Publish(n Notification) {
	select {
	case r.ch <- n:
	default:
	}
}

// Drain returns what has been published so far.
func (r *Recorder) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-r.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}
