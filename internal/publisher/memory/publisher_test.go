package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/steam-harvester/internal/publisher"
)

func TestIndexerStoresBatches(t *testing.T) {
	t.Parallel()

	idx := New()
	if err := idx.Index(context.Background(), []publisher.Document{{TrackingID: "1"}, {TrackingID: "2"}}); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if err := idx.Index(context.Background(), []publisher.Document{{TrackingID: "3"}}); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	batches := idx.Batches()
	if len(batches) != 2 || len(batches[0]) != 2 {
		t.Fatalf("unexpected batches: %+v", batches)
	}
	if docs := idx.Documents(); len(docs) != 3 || docs[2].TrackingID != "3" {
		t.Fatalf("unexpected documents: %+v", docs)
	}

	batches[0] = nil
	if idx.Batches()[0] == nil {
		t.Fatal("expected Batches() to return a copy")
	}
}

func TestIndexerFailWith(t *testing.T) {
	t.Parallel()

	idx := New()
	boom := errors.New("boom")
	idx.FailWith(boom)
	if err := idx.Index(context.Background(), []publisher.Document{{TrackingID: "1"}}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(idx.Batches()) != 0 {
		t.Fatal("failed batches must not be recorded")
	}
}
