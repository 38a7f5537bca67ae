// Package redisholder keeps a swappable Redis client that the health loop
// replaces when the connection goes bad.
package redisholder

import (
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// box lets cluster and single-node clients share one atomic slot.
type box struct {
	c redis.UniversalClient
}

type Holder struct {
	v atomic.Pointer[box]
}

func NewHolder(initial redis.UniversalClient) *Holder {
	h := &Holder{}
	h.v.Store(&box{c: initial})
	return h
}

func (h *Holder) Get() redis.UniversalClient {
	if b := h.v.Load(); b != nil {
		return b.c
	}
	return nil
}

func (h *Holder) swap(newc redis.UniversalClient) (old redis.UniversalClient) {
	if b := h.v.Swap(&box{c: newc}); b != nil {
		return b.c
	}
	return nil
}

func (h *Holder) Close() error {
	if c := h.Get(); c != nil {
		return c.Close()
	}
	return nil
}
