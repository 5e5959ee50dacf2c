package app

import (
	"sync"

	"arena-duel-service/internal/domain"
)

// watchHub fans duel snapshots out to per-duel subscribers. Purely a read
// convenience: duel correctness never depends on it, all coordination between
// writers happens in the store.
type watchHub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.DuelView]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[string]map[chan domain.DuelView]struct{})}
}

func (h *watchHub) subscribe(duelID string) (chan domain.DuelView, func()) {
	ch := make(chan domain.DuelView, 8)

	h.mu.Lock()
	if h.subs[duelID] == nil {
		h.subs[duelID] = make(map[chan domain.DuelView]struct{})
	}
	h.subs[duelID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[duelID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, duelID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *watchHub) broadcast(duelID string, view domain.DuelView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[duelID] {
		select {
		case ch <- view:
		default:
			// Drop the oldest snapshot so a slow watcher never blocks writers.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}
