package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Failover spreads EventSource reads over several endpoints, moving to the
// next one after failThreshold consecutive failures on the current one.
type Failover struct {
	sources       []EventSource
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewFailover(sources []EventSource, failThreshold int) (*Failover, error) {
	if len(sources) == 0 {
		return nil, errors.New("event sources is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &Failover{
		sources:       sources,
		failThreshold: failThreshold,
	}, nil
}

// DialFailover dials one read-only EVM adapter per distinct endpoint.
func DialFailover(ctx context.Context, endpoints []string, cfg EVMConfig, failThreshold int) (*Failover, []*EVM, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, nil, errors.New("rpc endpoints is empty")
	}
	var (
		sources []EventSource
		dialed  []*EVM
	)
	for _, ep := range list {
		c := cfg
		c.Endpoint = ep
		c.Key = nil
		e, err := DialEVM(ctx, c)
		if err != nil {
			for _, d := range dialed {
				d.Close()
			}
			return nil, nil, err
		}
		sources = append(sources, e)
		dialed = append(dialed, e)
	}
	f, err := NewFailover(sources, failThreshold)
	return f, dialed, err
}

func (m *Failover) CurrentHeight(ctx context.Context) (uint64, error) {
	return withFailover(m, func(s EventSource) (uint64, error) {
		return s.CurrentHeight(ctx)
	})
}

func (m *Failover) EventsInRange(ctx context.Context, kind EventKind, from, to uint64) ([]Event, error) {
	return withFailover(m, func(s EventSource) ([]Event, error) {
		return s.EventsInRange(ctx, kind, from, to)
	})
}

// Current returns the index of the endpoint in use.
func (m *Failover) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

func withFailover[T any](m *Failover, fn func(EventSource) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempts := 0; attempts < len(m.sources); attempts++ {
		src, idx := m.currentSource()
		out, err := fn(src)
		if err == nil {
			m.resetFailures(idx)
			return out, nil
		}
		lastErr = err
		m.noteFailure(idx)
		if !m.shouldRotate() {
			break
		}
		m.rotate()
	}
	return zero, lastErr
}

func (m *Failover) currentSource() (EventSource, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[m.index], m.index
}

func (m *Failover) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *Failover) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
}

func (m *Failover) shouldRotate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failCount >= m.failThreshold
}

func (m *Failover) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = (m.index + 1) % len(m.sources)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
