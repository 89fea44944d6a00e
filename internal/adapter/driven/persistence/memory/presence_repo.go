package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/meet/internal/core/domain"
)

// PresenceRepository keeps identity <-> connection bindings for the lifetime
// of the process.
type PresenceRepository struct {
	mu           sync.RWMutex
	byIdentity   map[domain.Identity]domain.ConnectionID
	byConnection map[domain.ConnectionID]domain.Identity
}

func NewPresenceRepository() *PresenceRepository {
	return &PresenceRepository{
		byIdentity:   make(map[domain.Identity]domain.ConnectionID),
		byConnection: make(map[domain.ConnectionID]domain.Identity),
	}
}

// Bind maps identity to conn and back. A previous connection for the same
// identity, or a previous identity for the same connection, loses its entry
// so the two maps never disagree.
func (r *PresenceRepository) Bind(ctx context.Context, identity domain.Identity, conn domain.ConnectionID) error {
	if identity == "" || conn == "" {
		return errors.New("presence: identity and connection are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if oldConn, ok := r.byIdentity[identity]; ok && oldConn != conn {
		delete(r.byConnection, oldConn)
	}
	if oldIdentity, ok := r.byConnection[conn]; ok && oldIdentity != identity {
		delete(r.byIdentity, oldIdentity)
	}

	r.byIdentity[identity] = conn
	r.byConnection[conn] = identity
	return nil
}

func (r *PresenceRepository) Unbind(ctx context.Context, conn domain.ConnectionID) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byConnection[conn]
	if !ok {
		return "", false
	}
	delete(r.byConnection, conn)
	if r.byIdentity[identity] == conn {
		delete(r.byIdentity, identity)
	}
	return identity, true
}

func (r *PresenceRepository) ConnectionOf(ctx context.Context, identity domain.Identity) (domain.ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byIdentity[identity]
	return conn, ok
}

func (r *PresenceRepository) IdentityOf(ctx context.Context, conn domain.ConnectionID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byConnection[conn]
	return identity, ok
}

// Len reports the number of bound connections.
func (r *PresenceRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConnection)
}
