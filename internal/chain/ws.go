package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// DefaultWSEndpoint derives the websocket URL served next to an HTTP RPC URL.
func DefaultWSEndpoint(rpc string) string {
	rpc = strings.TrimRight(strings.TrimSpace(rpc), "/")
	switch {
	case strings.HasPrefix(rpc, "ws://"), strings.HasPrefix(rpc, "wss://"):
		return rpc
	case strings.HasPrefix(rpc, "https://"):
		return "wss://" + strings.TrimPrefix(rpc, "https://")
	case strings.HasPrefix(rpc, "http://"):
		return "ws://" + strings.TrimPrefix(rpc, "http://")
	}
	return ""
}

// Subscribe streams decoded logs of the given kinds into sink until the
// subscription fails or is unsubscribed. The endpoint must be a websocket one.
func (e *EVM) Subscribe(ctx context.Context, kinds []EventKind, sink chan<- Event) (ethereum.Subscription, error) {
	byTopic := map[common.Hash]EventKind{}
	byAddress := map[common.Address]*contract{}
	var topics []common.Hash
	var addresses []common.Address
	for _, kind := range kinds {
		def, ok := eventDefs[kind]
		if !ok {
			continue
		}
		c, ok := e.contracts[def.contract]
		if !ok {
			continue
		}
		ev, ok := c.abi.Events[string(kind)]
		if !ok {
			continue
		}
		byTopic[ev.ID] = kind
		topics = append(topics, ev.ID)
		if _, seen := byAddress[c.address]; !seen {
			byAddress[c.address] = c
			addresses = append(addresses, c.address)
		}
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no subscribable event kinds in %v", kinds)
	}

	logs := make(chan types.Log, 64)
	sub, err := e.client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	}, logs)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case lg := <-logs:
				if lg.Removed || len(lg.Topics) == 0 {
					continue
				}
				kind, ok := byTopic[lg.Topics[0]]
				c := byAddress[lg.Address]
				if !ok || c == nil {
					continue
				}
				ev, err := decodeLog(kind, c.abi, lg)
				if err != nil {
					continue
				}
				if ev.BlockTime, err = e.blockTime(ctx, lg.BlockNumber); err != nil {
					return err
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
