package tenant

import (
	"context"
	"errors"
	"testing"

	"storeops/pkg/domain"
	"storeops/pkg/store"
)

func TestResolvePrefersBinding(t *testing.T) {
	s := seededStore(t)
	if err := s.SaveBinding(context.Background(), domain.StoreBinding{SenderID: "+1555", StoreID: "S002"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	r := NewResolver(s, s)

	res, err := r.Resolve(context.Background(), "+1555", "S001 fuel 3200 gallons")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.StoreID != "S002" || res.IsUnlinked || res.FromText {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolveUsesEmbeddedCode(t *testing.T) {
	s := seededStore(t)
	r := NewResolver(s, s)

	res, err := r.Resolve(context.Background(), "+1999", "s001 fuel 3200 gallons")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.StoreID != "S001" || !res.FromText {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolveUnlinkedWhenCodeUnknown(t *testing.T) {
	s := seededStore(t)
	r := NewResolver(s, s)

	for _, text := range []string{"X999 sales 100", "sales 100", "", "S0012 not a code"} {
		res, err := r.Resolve(context.Background(), "+1999", text)
		if err != nil {
			t.Fatalf("resolve %q: %v", text, err)
		}
		if !res.IsUnlinked || res.StoreID != "" {
			t.Fatalf("expected unlinked for %q, got %+v", text, res)
		}
	}
}

type failingDirectory struct{ store.Directory }

func (failingDirectory) GetBinding(context.Context, string) (domain.StoreBinding, bool, error) {
	return domain.StoreBinding{}, false, errors.New("db down")
}

func TestResolvePropagatesLookupErrors(t *testing.T) {
	s := seededStore(t)
	r := NewResolver(failingDirectory{}, s)
	if _, err := r.Resolve(context.Background(), "+1555", "S001"); err == nil {
		t.Fatalf("expected lookup error to propagate")
	}
}

func TestLink(t *testing.T) {
	s := seededStore(t)
	r := NewResolver(s, s)
	ctx := context.Background()

	st, err := r.Link(ctx, "+1555", "s001")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if st.Name != "Main St" {
		t.Fatalf("unexpected store %+v", st)
	}
	b, found, _ := s.GetBinding(ctx, "+1555")
	if !found || b.StoreID != "S001" {
		t.Fatalf("binding not saved: %+v", b)
	}
	if _, err := r.Link(ctx, "+1555", "Z999"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("expected ErrStoreNotFound, got %v", err)
	}
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	for _, st := range []domain.Store{
		{ID: "S001", Name: "Main St", SheetID: "sheet-1", Active: true},
		{ID: "S002", Name: "Highway 9", SheetID: "sheet-2", Active: true},
	} {
		if err := s.SaveStore(context.Background(), st); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return s
}
