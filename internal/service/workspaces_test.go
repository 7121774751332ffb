package service

import (
	"context"
	"errors"
	"testing"

	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/logger"
)

func ptr(s string) *string { return &s }

func TestWorkspacesLoadOrdersRows(t *testing.T) {
	// Rows arrive child first and one row points at a deleted parent.
	store := &memArtifacts{rows: []domain.Artifact{
		{ID: "c", WorkspaceID: "ws", Locator: "l", DerivedFromID: ptr("b")},
		{ID: "b", WorkspaceID: "ws", Locator: "l", DerivedFromID: ptr("a")},
		{ID: "a", WorkspaceID: "ws", Locator: "l"},
		{ID: "lost", WorkspaceID: "ws", Locator: "l", DerivedFromID: ptr("gone")},
		{ID: "lost-child", WorkspaceID: "ws", Locator: "l", DerivedFromID: ptr("lost")},
		{ID: "other", WorkspaceID: "ws-2", Locator: "l"},
	}}
	ws, err := NewWorkspaces(store, nil, 4, logger.Discard())
	if err != nil {
		t.Fatalf("NewWorkspaces: %v", err)
	}

	g, err := ws.Get(context.Background(), "ws")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if g.Len() != 5 {
		t.Fatalf("graph holds %d artifacts, want 5", g.Len())
	}
	tests := []struct {
		id     string
		parent string
	}{
		{"a", ""},
		{"b", "a"},
		{"c", "b"},
		{"lost", ""},
		{"lost-child", "lost"},
	}
	for _, tc := range tests {
		a, ok := g.Get(tc.id)
		if !ok {
			t.Errorf("%s missing", tc.id)
			continue
		}
		if a.ParentID() != tc.parent {
			t.Errorf("%s parent = %q, want %q", tc.id, a.ParentID(), tc.parent)
		}
	}
}

func TestWorkspacesCachesGraphs(t *testing.T) {
	store := &memArtifacts{}
	ws, err := NewWorkspaces(store, nil, 4, logger.Discard())
	if err != nil {
		t.Fatalf("NewWorkspaces: %v", err)
	}
	ctx := context.Background()

	first, _ := ws.Get(ctx, "ws")
	second, _ := ws.Get(ctx, "ws")
	if first != second {
		t.Error("second Get built a new graph")
	}

	ws.Invalidate("ws")
	third, _ := ws.Get(ctx, "ws")
	if third == first {
		t.Error("Invalidate kept the cached graph")
	}
}

func TestValidateWorkspaceID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"ws-1", true},
		{"", false},
		{"   ", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			err := ValidateWorkspaceID(tc.id)
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}
