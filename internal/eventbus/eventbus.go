// Package eventbus provides the single "a message was enqueued" wakeup
// signal shared by every session queue iterator. Writers never know which
// consumer, if any, is parked; a broadcast wakes every listener to perform
// its own probe rather than routing a targeted notification.
package eventbus

import "sync"

// Bus is a multi-consumer, non-blocking broadcast primitive. Subscribe
// returns a channel that is closed the next time Notify is called; the
// caller must call Subscribe again after each wakeup to keep listening.
// This channel-close-and-replace pattern means Notify never blocks, no
// matter how many subscribers are parked or how slow they are to wake.
type Bus struct {
	l  sync.Mutex
	ch chan struct{}
}

// New creates a ready-to-use Bus.
func New() *Bus {
	return &Bus{ch: make(chan struct{})}
}

// Subscribe returns the channel to wait on for the next notification.
func (b *Bus) Subscribe() <-chan struct{} {
	b.l.Lock()
	defer b.l.Unlock()
	return b.ch
}

// Notify wakes every current subscriber and installs a fresh channel for
// the next round. Safe to call from any number of goroutines concurrently.
func (b *Bus) Notify() {
	b.l.Lock()
	defer b.l.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}
