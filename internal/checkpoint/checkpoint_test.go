package checkpoint

import (
	"context"
	"testing"
)

type memVars struct {
	data map[string]string
}

func newMemVars() *memVars { return &memVars{data: map[string]string{}} }

func (m *memVars) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memVars) Set(_ context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

func TestBlockCheckpointRoundTrip(t *testing.T) {
	s := New(newMemVars())
	ctx := context.Background()

	if _, ok, _ := s.BlockCheckpoint(ctx); ok {
		t.Fatalf("expected no checkpoint on fresh store")
	}
	if err := s.SetBlockCheckpoint(ctx, "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, _ := s.BlockCheckpoint(ctx)
	if !ok || got != "abc" {
		t.Fatalf("got %q, %v, want abc, true", got, ok)
	}
}

func TestCheckSchemaVersionMismatchIsFatal(t *testing.T) {
	vars := newMemVars()
	s := New(vars)
	ctx := context.Background()

	if err := s.CheckSchemaVersion(ctx, "v1.0.0"); err == nil {
		t.Fatalf("expected error on uninitialized schema")
	}

	if err := s.SetSchemaVersion(ctx, "v1.0.0"); err != nil {
		t.Fatalf("set schema version: %v", err)
	}
	if err := s.CheckSchemaVersion(ctx, "v1.0.0"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := s.CheckSchemaVersion(ctx, "v2.0.0"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestResolveStartHash(t *testing.T) {
	cases := []struct {
		name          string
		persisted     string
		have          bool
		ignore        string
		prunedBelow   bool
		pruningPoint  string
		virtualParent string
		want          string
	}{
		{"no checkpoint yet falls back to pruning point", "", false, "", false, "p1", "v1", "p1"},
		{"persisted checkpoint used by default", "c1", true, "", false, "p1", "v1", "c1"},
		{"pruned checkpoint falls back to pruning point", "c1", true, "", true, "p1", "v1", "p1"},
		{"ignore-checkpoint=p forces pruning point", "c1", true, "p", false, "p1", "v1", "p1"},
		{"ignore-checkpoint=v forces virtual parent", "c1", true, "v", false, "p1", "v1", "v1"},
		{"ignore-checkpoint explicit hash wins", "c1", true, "deadbeef", false, "p1", "v1", "deadbeef"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ResolveStartHash(c.persisted, c.have, c.ignore, c.prunedBelow, c.pruningPoint, c.virtualParent)
			if got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}
