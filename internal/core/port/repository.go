package port

import (
	"context"

	"github.com/Wyydra/meet/internal/core/domain"
)

// PresenceRepository is the bidirectional identity <-> connection map.
// Both directions are always updated together.
type PresenceRepository interface {
	Bind(ctx context.Context, identity domain.Identity, conn domain.ConnectionID) error
	Unbind(ctx context.Context, conn domain.ConnectionID) (domain.Identity, bool)
	ConnectionOf(ctx context.Context, identity domain.Identity) (domain.ConnectionID, bool)
	IdentityOf(ctx context.Context, conn domain.ConnectionID) (domain.Identity, bool)
}
