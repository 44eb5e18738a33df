package singleton

import "testing"

func TestAcquireRefusesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer first.Release()

	if _, err := Acquire(dir); err == nil {
		t.Fatalf("expected second acquire in the same directory to fail")
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	g2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	defer g2.Release()
}
