package proofflow

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"
)

// inflightGuard serializes preflight runs per client so that concurrent
// uploads from one account cannot both decide to deposit.
type inflightGuard struct {
	mu    sync.Mutex
	slots map[common.Address]*guardSlot
}

type guardSlot struct {
	sem  *semaphore.Weighted
	refs int
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{slots: make(map[common.Address]*guardSlot)}
}

// acquire blocks until no other run holds the client, or ctx is done.
// The returned func releases the slot.
func (g *inflightGuard) acquire(ctx context.Context, client common.Address) (func(), error) {
	g.mu.Lock()
	slot, ok := g.slots[client]
	if !ok {
		slot = &guardSlot{sem: semaphore.NewWeighted(1)}
		g.slots[client] = slot
	}
	slot.refs++
	g.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.unref(client, slot)
		return nil, err
	}

	return func() {
		slot.sem.Release(1)
		g.unref(client, slot)
	}, nil
}

func (g *inflightGuard) unref(client common.Address, slot *guardSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(g.slots, client)
	}
}
