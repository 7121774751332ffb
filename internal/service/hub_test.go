package service

import (
	"testing"

	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/graph"
)

func TestHubRoutesByWorkspace(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe("ws-a")
	defer cancelA()
	b, cancelB := hub.Subscribe("ws-b")
	defer cancelB()

	n := hub.Publish(graph.Event{Type: graph.EventRegistered, WorkspaceID: "ws-a", Artifact: domain.Artifact{ID: "x"}})
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	select {
	case evt := <-a:
		if evt.Artifact.ID != "x" {
			t.Errorf("event artifact = %q", evt.Artifact.ID)
		}
	default:
		t.Error("ws-a subscriber got nothing")
	}
	select {
	case evt := <-b:
		t.Errorf("ws-b subscriber got %+v", evt)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe("ws")
	defer cancel()

	evt := graph.Event{WorkspaceID: "ws"}
	if n := hub.Publish(evt); n != 1 {
		t.Fatalf("first publish delivered %d", n)
	}
	if n := hub.Publish(evt); n != 0 {
		t.Errorf("publish to a full subscriber delivered %d, want 0", n)
	}
	<-ch
}

func TestHubCancel(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe("ws")
	if hub.Subscribers("ws") != 1 {
		t.Fatalf("subscribers = %d", hub.Subscribers("ws"))
	}

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	if hub.Subscribers("ws") != 0 {
		t.Errorf("subscribers = %d after cancel", hub.Subscribers("ws"))
	}
	if n := hub.Publish(graph.Event{WorkspaceID: "ws"}); n != 0 {
		t.Errorf("publish after cancel delivered %d", n)
	}
}
