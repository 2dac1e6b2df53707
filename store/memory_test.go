package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, "k1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get(ctx, "k1")
	if err != nil || string(v) != "v1" {
		t.Fatalf("got %q, %v", v, err)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected deleted key to be gone")
	}
}

func TestMemoryStoreListPrefixAndPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		s.Put(ctx, k, []byte(k))
	}

	items, next, err := s.List(ctx, "a/", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Key != "a/1" || items[1].Key != "a/2" {
		t.Fatalf("unexpected first page: %+v", items)
	}
	if next != "a/2" {
		t.Fatalf("expected cursor a/2, got %q", next)
	}

	items2, next2, err := s.List(ctx, "a/", next, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items2) != 1 || items2[0].Key != "a/3" {
		t.Fatalf("unexpected second page: %+v", items2)
	}
	if next2 != "" {
		t.Fatalf("expected exhausted cursor, got %q", next2)
	}
}

func TestMemoryStoreCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CompareAndSet(ctx, "k", nil, []byte("v1")); err != nil {
		t.Fatalf("create-if-absent should succeed, got %v", err)
	}
	if err := s.CompareAndSet(ctx, "k", nil, []byte("v2")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on re-create, got %v", err)
	}
	if err := s.CompareAndSet(ctx, "k", []byte("wrong"), []byte("v2")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale old value, got %v", err)
	}
	if err := s.CompareAndSet(ctx, "k", []byte("v1"), []byte("v2")); err != nil {
		t.Fatalf("expected CAS to succeed with correct old value, got %v", err)
	}
	v, _ := s.Get(ctx, "k")
	if string(v) != "v2" {
		t.Fatalf("expected v2, got %q", v)
	}
}

func TestMemoryStoreConcurrentCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(ctx, "counter", []byte("0"))

	const n = 20
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- s.CompareAndSet(ctx, "counter", []byte("0"), []byte("1"))
		}()
	}
	successes := 0
	for i := 0; i < n; i++ {
		if err := <-results; err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one CAS to win the race, got %d", successes)
	}
}
