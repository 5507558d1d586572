// Package notify reports preview readiness. Polling goes through GetStatus;
// push subscribers get a single ready event and the channel closes. No
// subscription state outlives the process: readiness fans out through an
// in-process hub, and across processes through a Broker.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/metrics"
	"github.com/quatton/mam/pkg/mlog"
)

// Status is the polling answer for a prefix.
type Status struct {
	Ready  bool          `json:"ready"`
	Status assets.Status `json:"status,omitempty"`
}

// Event is pushed once when a prefix becomes ready.
type Event struct {
	Prefix string `json:"prefix"`
	Ready  bool   `json:"ready"`
}

// Lookup resolves a preview prefix to its asset.
type Lookup interface {
	GetByPreviewPrefix(ctx context.Context, prefix string) (*assets.Asset, error)
}

// Broker carries ready notifications between processes.
type Broker interface {
	Publish(ctx context.Context, prefix string) error
	// Listen calls fn for every published prefix until ctx ends.
	Listen(ctx context.Context, fn func(prefix string)) error
}

// Notifier answers readiness queries and fans out ready events.
type Notifier struct {
	lookup Lookup
	broker Broker
	hub    *Hub
	log    *mlog.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

// New returns a Notifier. With a nil broker, Publish only reaches
// subscribers in this process.
func New(lookup Lookup, broker Broker, log *mlog.Logger) *Notifier {
	if log == nil {
		log = mlog.Discard()
	}
	hub := NewHub()
	if broker == nil {
		broker = NewLocalBroker(hub)
	}
	return &Notifier{
		lookup:    lookup,
		broker:    broker,
		hub:       hub,
		log:       log.With("component", "notify"),
		retryBase: 500 * time.Millisecond,
		retryMax:  30 * time.Second,
	}
}

// Hub exposes the in-process hub, mainly for brokers that deliver into it.
func (n *Notifier) Hub() *Hub { return n.hub }

// GetStatus is safe to call repeatedly. Unknown prefixes are not ready.
func (n *Notifier) GetStatus(ctx context.Context, prefix string) (Status, error) {
	a, err := n.lookup.GetByPreviewPrefix(ctx, prefix)
	if merr.IsCode(err, merr.CodeNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Ready: a.Status == assets.StatusReady, Status: a.Status}, nil
}

// Subscribe returns a channel that receives exactly one ready event and is
// then closed, or is closed without an event when ctx ends. The subscription
// is registered before the current status is checked so a transition that
// lands in between is not missed.
func (n *Notifier) Subscribe(ctx context.Context, prefix string) (<-chan Event, error) {
	sub := n.hub.add(prefix)
	st, err := n.GetStatus(ctx, prefix)
	if err != nil {
		n.hub.finish(sub, nil)
		return nil, err
	}
	if st.Ready {
		n.hub.finish(sub, &Event{Prefix: prefix, Ready: true})
	}
	go func() {
		select {
		case <-ctx.Done():
			n.hub.finish(sub, nil)
		case <-sub.done:
		}
	}()
	return sub.ch, nil
}

// Publish announces that prefix is ready.
func (n *Notifier) Publish(ctx context.Context, prefix string) error {
	if err := n.broker.Publish(ctx, prefix); err != nil {
		return merr.Queue("notify.publish", err)
	}
	return nil
}

// Run relays broker messages into the hub until ctx ends. A listener that
// fails or drops out is restarted with capped exponential backoff.
func (n *Notifier) Run(ctx context.Context) error {
	attempt := 0
	for {
		n.log.Debug("listening for ready notifications")
		start := time.Now()
		err := n.broker.Listen(ctx, n.hub.Fire)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) >= n.retryMax {
			attempt = 0
		}
		delay := n.backoff(attempt)
		attempt++
		n.log.Warn("ready listener stopped, restarting", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (n *Notifier) backoff(attempt int) time.Duration {
	d := n.retryBase
	for i := 0; i < attempt && d < n.retryMax; i++ {
		d *= 2
	}
	return min(d, n.retryMax)
}

// Hub is the in-process subscription registry.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	prefix string
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

func (h *Hub) add(prefix string) *subscription {
	sub := &subscription{prefix: prefix, ch: make(chan Event, 1), done: make(chan struct{})}
	h.mu.Lock()
	set, ok := h.subs[prefix]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[prefix] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.Subscribers.Inc()
	return sub
}

// finish delivers ev (if any), closes the subscription and unregisters it.
// Only the first call has an effect.
func (h *Hub) finish(sub *subscription, ev *Event) {
	sub.once.Do(func() {
		h.mu.Lock()
		if set, ok := h.subs[sub.prefix]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.prefix)
			}
		}
		h.mu.Unlock()

		if ev != nil {
			sub.ch <- *ev
		}
		close(sub.ch)
		close(sub.done)
		metrics.Subscribers.Dec()
	})
}

// Fire delivers a ready event to every subscriber of prefix.
func (h *Hub) Fire(prefix string) {
	h.mu.Lock()
	set := h.subs[prefix]
	subs := make([]*subscription, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		h.finish(s, &Event{Prefix: prefix, Ready: true})
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
