package blob

import (
	"context"
	"testing"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "doc/comments/a.csv", []byte("header\nrow"), "text/csv"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := store.Get(ctx, "doc/comments/a.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "header\nrow" {
		t.Errorf("Get() = %q, want %q", data, "header\nrow")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Get(context.Background(), "missing"); err == nil {
		t.Error("Get() on missing key should fail")
	}
}

func TestMemoryStore_ListPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	keys := []string{
		"doc-1/comments/b.csv",
		"doc-1/comments/a.csv",
		"doc-1/attachments/c.csv",
		"doc-2/comments/d.csv",
	}
	for _, key := range keys {
		if err := store.Put(ctx, key, []byte("x"), "text/csv"); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}

	objects, err := store.List(ctx, "doc-1/comments/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(objects) != 2 {
		t.Fatalf("List() returned %d objects, want 2", len(objects))
	}
	// Sorted by key
	if objects[0].Key != "doc-1/comments/a.csv" || objects[1].Key != "doc-1/comments/b.csv" {
		t.Errorf("List() order = [%s, %s], want sorted", objects[0].Key, objects[1].Key)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("v"), ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "k"); err == nil {
		t.Error("Delete() on missing key should fail")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestMemoryStore_PutCopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("original")
	if err := store.Put(ctx, "k", data, ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data[0] = 'X'

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "original" {
		t.Errorf("Get() = %q, stored data must not alias caller's buffer", got)
	}
}
