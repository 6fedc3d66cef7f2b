package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "records/b.ndjson", "application/x-ndjson", bytes.NewReader([]byte("content")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://records/b.ndjson" {
		t.Fatalf("unexpected uri %s", uri)
	}
	if _, err := store.PutObject(context.Background(), "records/a.ndjson", "", bytes.NewReader(nil)); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}

	got, ok := store.Object("records/b.ndjson")
	if !ok || string(got) != "content" {
		t.Fatalf("Object() = %q, %v", got, ok)
	}
	got[0] = 'C'
	if again, _ := store.Object("records/b.ndjson"); string(again) != "content" {
		t.Fatalf("expected Object to return a copy, got %q", again)
	}
	if paths := store.Paths(); len(paths) != 2 || paths[0] != "records/a.ndjson" {
		t.Fatalf("Paths() = %v", paths)
	}
	if _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
