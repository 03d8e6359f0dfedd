package chain

import (
	"context"
	"time"

	"OminisNode/internal/logger"
	"OminisNode/internal/retry"

	"github.com/ethereum/go-ethereum"
)

// Streamer pushes decoded events as they are mined.
type Streamer interface {
	Subscribe(ctx context.Context, kinds []EventKind, sink chan<- Event) (ethereum.Subscription, error)
}

// Watcher delivers new events of the selected kinds to a handler, starting
// from the head at the time Run is called. With a Streamer it subscribes
// and reconnects on failure, otherwise it polls Source every Interval.
type Watcher struct {
	Source   EventSource
	Stream   Streamer
	Kinds    []EventKind
	Interval time.Duration
	Log      *logger.Logger
}

func (w *Watcher) Run(ctx context.Context, handle func(context.Context, Event)) {
	if w.Stream != nil {
		w.runStream(ctx, handle)
		return
	}
	w.runPoll(ctx, handle)
}

func (w *Watcher) interval() time.Duration {
	if w.Interval <= 0 {
		return 2 * time.Second
	}
	return w.Interval
}

func (w *Watcher) runPoll(ctx context.Context, handle func(context.Context, Event)) {
	var last uint64
	started := false
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	for {
		head, err := w.Source.CurrentHeight(ctx)
		switch {
		case err != nil:
			w.Log.Warn("watcher head failed", "err", err)
		case !started:
			last = head
			started = true
		case head > last:
			if err := w.deliver(ctx, last+1, head, handle); err != nil {
				w.Log.Warn("watcher poll failed", "from", last+1, "to", head, "err", err)
			} else {
				last = head
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) deliver(ctx context.Context, from, to uint64, handle func(context.Context, Event)) error {
	var events []Event
	for _, kind := range w.Kinds {
		evs, err := w.Source.EventsInRange(ctx, kind, from, to)
		if err != nil {
			return err
		}
		events = append(events, evs...)
	}
	SortEvents(events)
	for _, ev := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handle(ctx, ev)
	}
	return nil
}

func (w *Watcher) runStream(ctx context.Context, handle func(context.Context, Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sink := make(chan Event, 64)
		sub, err := w.Stream.Subscribe(ctx, w.Kinds, sink)
		if err != nil {
			w.Log.Warn("watcher subscribe failed", "err", err)
			if retry.Sleep(ctx, 3*time.Second) != nil {
				return
			}
			continue
		}
		w.Log.Info("watcher subscribed", "kinds", w.Kinds)

	read:
		for {
			select {
			case ev := <-sink:
				handle(ctx, ev)
			case err := <-sub.Err():
				w.Log.Warn("watcher subscription dropped", "err", err)
				break read
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			}
		}
		sub.Unsubscribe()
		if retry.Sleep(ctx, 2*time.Second) != nil {
			return
		}
	}
}
