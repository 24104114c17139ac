package chatsync

import "sync"

// notifier hands out change notifications for a store. Every mutation bumps
// a version; watchers get the latest version on a one-slot channel, so a slow
// reader sees bursts coalesced into a single wakeup and never blocks writers.
type notifier struct {
	mu       sync.Mutex
	version  uint64
	watchers map[chan uint64]struct{}
}

func (n *notifier) bump() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.version++
	for ch := range n.watchers {
		select {
		case ch <- n.version:
		default:
			// Replace the unread version with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n.version:
			default:
			}
		}
	}
}

func (n *notifier) current() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

func (n *notifier) watch() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	n.mu.Lock()
	if n.watchers == nil {
		n.watchers = make(map[chan uint64]struct{})
	}
	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watchers, ch)
			n.mu.Unlock()
		})
	}
}
