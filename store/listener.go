package store

import (
	"iter"
	"slices"

	"github.com/xraph/stockpile/types"
)

// EventKind identifies a store notification.
type EventKind uint8

const (
	// EventAccept reports an article quantity increase.
	EventAccept EventKind = iota + 1
	// EventSupply reports an article quantity decrease.
	EventSupply
	// EventCapacity reports a capacity change.
	EventCapacity
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "accept"
	case EventSupply:
		return "supply"
	case EventCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Event is a single store notification. Accept and supply events carry the
// article's quantity before and after the change; capacity events carry
// the signed capacity delta.
type Event struct {
	Kind          EventKind
	Store         Store
	Handle        int
	Article       types.Article
	Before        types.Fraction
	After         types.Fraction
	CapacityDelta types.Fraction
}

// Delta returns the signed quantity change of an accept or supply event.
func (e Event) Delta() types.Fraction {
	return e.After.Sub(e.Before)
}

// Listener observes a store. Replaying Notify events in order reproduces the
// store's contents keyed by handle.
type Listener interface {
	Notify(e Event)

	// Disconnect is called once the listener has been detached. didNotify
	// reports whether the final state was replayed; isValid is false when
	// the store itself is going away.
	Disconnect(s Store, didNotify, isValid bool)
}

// Notifier fans events out to a store's listeners and keeps the running
// count and capacity, so both are O(1) reads.
type Notifier struct {
	owner     Store
	listeners []Listener
	count     types.Fraction
	capacity  types.Fraction
	onIdle    func()
}

// NewNotifier creates a notifier for owner. onIdle, if set, is called when
// the last listener detaches.
func NewNotifier(owner Store, capacity types.Fraction, onIdle func()) *Notifier {
	return &Notifier{
		owner:    owner,
		count:    types.ZeroFraction,
		capacity: capacity,
		onIdle:   onIdle,
	}
}

// Count returns the running total quantity.
func (n *Notifier) Count() types.Fraction { return n.count }

// Capacity returns the running capacity.
func (n *Notifier) Capacity() types.Fraction { return n.capacity }

// HasListeners reports whether any listener is attached.
func (n *Notifier) HasListeners() bool { return len(n.listeners) > 0 }

// NotifyAccept records that the article at handle grew by delta from before.
func (n *Notifier) NotifyAccept(handle int, a types.Article, before, delta types.Fraction) {
	n.count = n.count.Add(delta)
	n.emit(Event{
		Kind:    EventAccept,
		Store:   n.owner,
		Handle:  handle,
		Article: a,
		Before:  before,
		After:   before.Add(delta),
	})
}

// NotifySupply records that the article at handle shrank by delta from before.
func (n *Notifier) NotifySupply(handle int, a types.Article, before, delta types.Fraction) {
	n.count = n.count.Sub(delta)
	n.emit(Event{
		Kind:    EventSupply,
		Store:   n.owner,
		Handle:  handle,
		Article: a,
		Before:  before,
		After:   before.Sub(delta),
	})
}

// ChangeCapacity records a signed capacity change.
func (n *Notifier) ChangeCapacity(delta types.Fraction) {
	if delta.IsZero() {
		return
	}
	n.capacity = n.capacity.Add(delta)
	n.emit(Event{Kind: EventCapacity, Store: n.owner, Handle: -1, CapacityDelta: delta})
}

func (n *Notifier) emit(e Event) {
	for _, l := range n.listeners {
		l.Notify(e)
	}
}

// Start attaches l. With sendInitialState the capacity and every item of
// contents are replayed to l alone. Attaching twice is a no-op.
func (n *Notifier) Start(l Listener, sendInitialState bool, contents iter.Seq[ArticleView]) {
	if slices.Contains(n.listeners, l) {
		return
	}
	n.listeners = append(n.listeners, l)
	if !sendInitialState {
		return
	}

	if !n.capacity.IsZero() {
		l.Notify(Event{Kind: EventCapacity, Store: n.owner, Handle: -1, CapacityDelta: n.capacity})
	}
	for v := range contents {
		l.Notify(Event{
			Kind:    EventAccept,
			Store:   n.owner,
			Handle:  v.Handle,
			Article: v.Article,
			Before:  types.ZeroFraction,
			After:   v.Amount,
		})
	}
}

// Stop detaches l. With sendFinalState the removal of every item of
// contents and of the capacity is replayed to l first.
func (n *Notifier) Stop(l Listener, sendFinalState bool, contents iter.Seq[ArticleView]) {
	i := slices.Index(n.listeners, l)
	if i < 0 {
		return
	}
	n.listeners = slices.Delete(n.listeners, i, i+1)

	if sendFinalState {
		for v := range contents {
			l.Notify(Event{
				Kind:    EventSupply,
				Store:   n.owner,
				Handle:  v.Handle,
				Article: v.Article,
				Before:  v.Amount,
				After:   types.ZeroFraction,
			})
		}
		if !n.capacity.IsZero() {
			l.Notify(Event{Kind: EventCapacity, Store: n.owner, Handle: -1, CapacityDelta: n.capacity.Neg()})
		}
	}
	l.Disconnect(n.owner, sendFinalState, true)

	if len(n.listeners) == 0 && n.onIdle != nil {
		n.onIdle()
	}
}

// DisconnectAll detaches every listener without replay, telling each that
// the store is no longer valid.
func (n *Notifier) DisconnectAll() {
	listeners := n.listeners
	n.listeners = nil
	for _, l := range listeners {
		l.Disconnect(n.owner, false, false)
	}
	if n.onIdle != nil {
		n.onIdle()
	}
}
