package report

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Resolver,AuditPublisher

import (
	"context"

	"diligence/internal/audit"
	"diligence/internal/protocol"
)

// Resolver maps a free-text name onto a catalog identity. A failure is a
// *resolver.NotFoundError.
type Resolver interface {
	Resolve(text string) (protocol.Identity, error)
}

// AuditPublisher receives one event per report request. Implementations
// must not block the caller for long.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
