package indexwriter

import (
	"context"
	"testing"
	"time"
)

func TestSupervisorReturnsSameWriterForRepeatedCalls(t *testing.T) {
	root := t.TempDir()
	sup := NewSupervisor(root, DefaultConfig(), time.Hour)
	t.Cleanup(sup.Stop)

	ctx := context.Background()
	w1, err := sup.WriterFor(ctx, "lib")
	if err != nil {
		t.Fatalf("writer for: %v", err)
	}
	w2, err := sup.WriterFor(ctx, "lib")
	if err != nil {
		t.Fatalf("writer for: %v", err)
	}
	if w1 != w2 {
		t.Fatal("expected the same writer instance for the same db key")
	}
}

func TestSupervisorWritersAreIndependentPerKey(t *testing.T) {
	root := t.TempDir()
	sup := NewSupervisor(root, DefaultConfig(), time.Hour)
	t.Cleanup(sup.Stop)

	ctx := context.Background()
	w1, _ := sup.WriterFor(ctx, "lib-a")
	w2, _ := sup.WriterFor(ctx, "lib-b")
	if w1 == w2 {
		t.Fatal("expected distinct writers for distinct db keys")
	}
}
