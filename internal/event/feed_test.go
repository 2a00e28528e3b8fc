package event

import (
	"testing"

	"github.com/Phuc-Java/forum-sub000/internal/model"
)

func TestClassifyCreated(t *testing.T) {
	ev := FeedEvent{
		Collection: CollectionCallSessions,
		ChangeType: ChangeCreated,
		Record:     model.CallSession{Status: model.CallStatusRinging},
	}

	se, err := Classify(ev)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	created, ok := se.(SessionCreated)
	if !ok {
		t.Fatalf("expected SessionCreated, got %T", se)
	}
	if created.Record.Status != model.CallStatusRinging {
		t.Fatalf("record not carried through: %+v", created.Record)
	}
}

func TestClassifyUpdatedCarriesObservedStatus(t *testing.T) {
	ev := FeedEvent{
		Collection: CollectionCallSessions,
		ChangeType: ChangeUpdated,
		Record:     model.CallSession{Status: model.CallStatusEnded},
	}

	se, err := Classify(ev)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	updated, ok := se.(SessionUpdated)
	if !ok {
		t.Fatalf("expected SessionUpdated, got %T", se)
	}
	if updated.ToStatus != model.CallStatusEnded {
		t.Fatalf("expected observed status ended, got %s", updated.ToStatus)
	}
}

func TestClassifyRejectsUnwatchedCollection(t *testing.T) {
	_, err := Classify(FeedEvent{Collection: "messages", ChangeType: ChangeCreated})
	if err == nil {
		t.Fatal("expected an error for an unwatched collection")
	}
}

func TestClassifyRejectsUnknownChangeType(t *testing.T) {
	_, err := Classify(FeedEvent{Collection: CollectionCallSessions, ChangeType: "deleted"})
	if err == nil {
		t.Fatal("expected an error for an unknown change type")
	}
}
