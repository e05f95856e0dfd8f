// Package tenant maps chat senders to the store they report for.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"storeops/pkg/domain"
	"storeops/pkg/store"
)

// ErrStoreNotFound is returned by Link for codes missing from the registry.
var ErrStoreNotFound = errors.New("store not found")

var storeCodePattern = regexp.MustCompile(`\b([A-Za-z]\d{3})\b`)

// Resolution is the outcome of Resolve. StoreID is empty when IsUnlinked.
type Resolution struct {
	StoreID    string
	IsUnlinked bool
	// FromText reports that the store came from a code embedded in the message.
	FromText bool
}

type Resolver struct {
	directory store.Directory
	registry  store.Registry
}

func NewResolver(directory store.Directory, registry store.Registry) *Resolver {
	return &Resolver{directory: directory, registry: registry}
}

// Resolve finds the store for a message: the sender's binding first, then a
// registered store code embedded in text. Lookup failures are returned, never
// reported as unlinked.
func (r *Resolver) Resolve(ctx context.Context, senderID, text string) (Resolution, error) {
	binding, found, err := r.directory.GetBinding(ctx, senderID)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup binding: %w", err)
	}
	if found && strings.TrimSpace(binding.StoreID) != "" {
		return Resolution{StoreID: binding.StoreID}, nil
	}

	for _, code := range StoreCodes(text) {
		_, exists, err := r.registry.GetStore(ctx, code)
		if err != nil {
			return Resolution{}, fmt.Errorf("lookup store %s: %w", code, err)
		}
		if exists {
			return Resolution{StoreID: code, FromText: true}, nil
		}
	}
	return Resolution{IsUnlinked: true}, nil
}

// Link binds senderID to the registered store code and returns the store.
func (r *Resolver) Link(ctx context.Context, senderID, code string) (domain.Store, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	st, exists, err := r.registry.GetStore(ctx, code)
	if err != nil {
		return domain.Store{}, fmt.Errorf("lookup store %s: %w", code, err)
	}
	if !exists {
		return domain.Store{}, fmt.Errorf("%s: %w", code, ErrStoreNotFound)
	}
	if err := r.directory.SaveBinding(ctx, domain.StoreBinding{
		SenderID:  senderID,
		StoreID:   st.ID,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return domain.Store{}, fmt.Errorf("save binding: %w", err)
	}
	return st, nil
}

// StoreCodes returns the uppercased store-code tokens in text, in order.
func StoreCodes(text string) []string {
	matches := storeCodePattern.FindAllStringSubmatch(text, -1)
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, strings.ToUpper(m[1]))
	}
	return codes
}
