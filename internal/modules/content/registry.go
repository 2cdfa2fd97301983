// Package content holds the owner registry shared by stories, vacancies and
// notices. Each content service registers a resolver for its kind so the
// attachment store can check that an owner exists.
package content

import (
	"context"
	"fmt"
	"sync"

	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
)

// Resolver loads the entity with id, returning attachment.ErrOwnerNotFound
// when there is none.
type Resolver func(ctx context.Context, id uint) (attachment.Entity, error)

type Registry struct {
	mu        sync.RWMutex
	resolvers map[models.OwnerKind]Resolver
}

func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[models.OwnerKind]Resolver)}
}

// Register installs fn for kind, replacing any earlier resolver.
func (r *Registry) Register(kind models.OwnerKind, fn Resolver) {
	r.mu.Lock()
	r.resolvers[kind] = fn
	r.mu.Unlock()
}

// Locate implements attachment.Locator.
func (r *Registry) Locate(ctx context.Context, kind models.OwnerKind, id uint) (attachment.Entity, error) {
	r.mu.RLock()
	fn, ok := r.resolvers[kind]
	r.mu.RUnlock()
	if !ok {
		return attachment.Entity{}, fmt.Errorf("%w: %q has no resolver", models.ErrInvalidOwnerKind, kind)
	}
	return fn(ctx, id)
}
