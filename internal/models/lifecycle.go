package models

import "cosmossdk.io/errors"

var transitions = map[OrderStatus][]OrderStatus{
	StatusOpen:       {StatusAccepted, StatusExpired, StatusCancelled},
	StatusAccepted:   {StatusCommitted, StatusExpired, StatusCancelled},
	StatusCommitted:  {StatusRevealed},
	StatusRevealed:   {StatusVerified, StatusChallenged},
	StatusChallenged: {StatusVerified, StatusRejected},
}

// CanTransition reports whether from -> to is a single edge of the order lifecycle.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can be reached from from through one or more edges.
func Reachable(from, to OrderStatus) bool {
	seen := map[OrderStatus]bool{from: true}
	queue := []OrderStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Transition resolves the status an order should hold after an event that
// moves it to target. Re-delivery of the current status and stale events
// whose target the order has already moved past are no-ops. Anything else
// outside the lifecycle graph is rejected and the current status is kept.
func Transition(current, target OrderStatus) (OrderStatus, bool, error) {
	switch {
	case !target.Valid():
		return current, false, errors.Wrapf(ErrIllegalTransition, "unknown target status %d", target)
	case current == target:
		return current, false, nil
	case CanTransition(current, target):
		return target, true, nil
	case Reachable(target, current):
		return current, false, nil
	default:
		return current, false, errors.Wrapf(ErrIllegalTransition, "%s -> %s", current, target)
	}
}
