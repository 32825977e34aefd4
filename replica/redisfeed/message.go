package redisfeed

import (
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/types"
)

// Message kinds beyond store.EventKind values.
const (
	kindDisconnect = "disconnect"
)

// message is the JSON payload published for one store event.
type message struct {
	Seq           uint64          `json:"seq"`
	StoreID       string          `json:"store_id"`
	Kind          string          `json:"kind"`
	Handle        int             `json:"handle"`
	Article       *articleMessage `json:"article,omitempty"`
	Before        types.Fraction  `json:"before"`
	After         types.Fraction  `json:"after"`
	CapacityDelta types.Fraction  `json:"capacity_delta"`
	Valid         bool            `json:"valid,omitempty"`
}

type articleMessage struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Tag  string `json:"tag,omitempty"`
}

func fromEvent(e store.Event) message {
	msg := message{
		Kind:          e.Kind.String(),
		Handle:        e.Handle,
		Before:        e.Before,
		After:         e.After,
		CapacityDelta: e.CapacityDelta,
	}
	if e.Store != nil {
		msg.StoreID = e.Store.ID().String()
	}
	if !e.Article.IsNothing() {
		t := e.Article.Type()
		msg.Article = &articleMessage{Name: t.Name(), Kind: t.Kind().String(), Tag: e.Article.Tag()}
	}
	return msg
}

func (m message) event() (store.Event, bool) {
	e := store.Event{
		Handle:        m.Handle,
		Article:       types.Nothing,
		Before:        m.Before,
		After:         m.After,
		CapacityDelta: m.CapacityDelta,
	}
	switch m.Kind {
	case store.EventAccept.String():
		e.Kind = store.EventAccept
	case store.EventSupply.String():
		e.Kind = store.EventSupply
	case store.EventCapacity.String():
		e.Kind = store.EventCapacity
	default:
		return e, false
	}
	if m.Article != nil {
		kind := types.Discrete
		if m.Article.Kind == types.Bulk.String() {
			kind = types.Bulk
		}
		e.Article = types.ArticleOf(m.Article.Name, kind, m.Article.Tag)
	}
	return e, true
}
