// Package stream fans out post-durability commit events to in-process
// subscribers. Events are published from the commit-callback path, so a
// received event always refers to records already covered by an fsync.
package stream

import (
	"errors"
	"sync"

	"github.com/eapache/channels"
	msgpack "github.com/vmihailenco/msgpack"

	"github.com/terndb/tern/utils/log"
)

var catalog *Catalog
var send *channels.InfiniteChannel

// Catalog maintains the set of active subscribers
type Catalog struct {
	sync.RWMutex
	subs map[*Subscriber]struct{}
}

// Add a new subscriber to the catalog
func (sc *Catalog) Add(sub *Subscriber) {
	sc.Lock()
	defer sc.Unlock()

	sc.subs[sub] = struct{}{}
}

// NewCatalog initializes the stream catalog
func NewCatalog() *Catalog {
	return &Catalog{
		subs: map[*Subscriber]struct{}{},
	}
}

// CommitEvent describes one durable commit batch.
type CommitEvent struct {
	Sequence uint64 `msgpack:"sequence"`
	Records  int    `msgpack:"records"`
	Bytes    int    `msgpack:"bytes"`
}

// Subscriber receives commit events through its own unbounded queue, so a
// slow subscriber never backpressures the publisher.
type Subscriber struct {
	q *channels.InfiniteChannel
}

// Next blocks for the next commit event. It returns an error once the
// subscriber is unsubscribed or the stream is shut down.
func (s *Subscriber) Next() (CommitEvent, error) {
	v, ok := <-s.q.Out()
	if !ok {
		return CommitEvent{}, errors.New("commit stream closed")
	}
	buf := v.([]byte)
	ev := CommitEvent{}
	if err := msgpack.Unmarshal(buf, &ev); err != nil {
		return CommitEvent{}, err
	}
	return ev, nil
}

// Initialize starts the commit stream pusher. Safe to call once at
// process startup, before any Push.
func Initialize() {
	catalog = NewCatalog()
	send = channels.NewInfiniteChannel()
	go pusher()
}

// Subscribe registers a new subscriber for all subsequent commit events.
func Subscribe() *Subscriber {
	sub := &Subscriber{q: channels.NewInfiniteChannel()}
	catalog.Add(sub)
	return sub
}

// Unsubscribe removes the subscriber and closes its queue.
func Unsubscribe(sub *Subscriber) {
	catalog.Lock()
	defer catalog.Unlock()

	if _, ok := catalog.subs[sub]; ok {
		delete(catalog.subs, sub)
		sub.q.Close()
	}
}

// Push publishes a commit event to every subscriber.
func Push(ev CommitEvent) error {
	buf, err := msgpack.Marshal(ev)
	if err != nil {
		return err
	}
	send.In() <- buf
	return nil
}

// Shutdown closes the stream; the pusher drains what was pushed and then
// closes every subscriber queue.
func Shutdown() {
	send.Close()
}

func pusher() {
	for v := range send.Out() {
		if v == nil {
			continue
		}
		buf, ok := v.([]byte)
		if !ok {
			log.Error("unexpected commit stream payload: %v", v)
			continue
		}

		catalog.RLock()
		for s := range catalog.subs {
			s.q.In() <- buf
		}
		catalog.RUnlock()
	}

	// Stream shut down; release the subscribers.
	catalog.Lock()
	for s := range catalog.subs {
		s.q.Close()
		delete(catalog.subs, s)
	}
	catalog.Unlock()
}
