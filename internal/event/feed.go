package event

import (
	"fmt"

	"github.com/Phuc-Java/forum-sub000/internal/model"
)

// Watched collections
const (
	CollectionCallSessions = "call_sessions"
)

// ChangeType identifies the kind of document mutation a feed event reports.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
)

// FeedEvent is the raw change-feed envelope. Delivery is at-least-once,
// ordered per record, unordered across records and collections.
type FeedEvent struct {
	Collection string            `json:"collection"`
	ChangeType ChangeType        `json:"changeType"`
	Record     model.CallSession `json:"record"`
}

// SessionEvent is the closed set of call-session feed variants. Payloads
// are classified once at the boundary; downstream code switches on the
// variant instead of inspecting the raw envelope.
type SessionEvent interface {
	sessionEvent()
}

// SessionCreated reports a newly inserted call session.
type SessionCreated struct {
	Record model.CallSession
}

// SessionUpdated reports an updated call session. ToStatus carries the
// status observed on the record at delivery time, which may already be
// further along than the change that produced the event.
type SessionUpdated struct {
	Record   model.CallSession
	ToStatus model.CallStatus
}

func (SessionCreated) sessionEvent() {}
func (SessionUpdated) sessionEvent() {}

// Classify parses a raw feed event into its tagged variant. Events for
// collections the call core does not watch are rejected here.
func Classify(ev FeedEvent) (SessionEvent, error) {
	if ev.Collection != CollectionCallSessions {
		return nil, fmt.Errorf("unwatched collection %q", ev.Collection)
	}

	switch ev.ChangeType {
	case ChangeCreated:
		return SessionCreated{Record: ev.Record}, nil
	case ChangeUpdated:
		return SessionUpdated{Record: ev.Record, ToStatus: ev.Record.Status}, nil
	default:
		return nil, fmt.Errorf("unknown change type %q", ev.ChangeType)
	}
}
