package repo

import (
	"context"

	"github.com/alkahf/storefront/internal/docstore"
	"github.com/alkahf/storefront/internal/events"
	"github.com/alkahf/storefront/internal/incident"
)

// EventRepo stores domain events in the "events" collection.
type EventRepo struct {
	Docs *docstore.Store
}

// InsertEvent implements events.EventStore.
func (r EventRepo) InsertEvent(ctx context.Context, ev events.Event) error {
	_, err := r.Docs.Insert(ctx, "events", ev.ID, ev)
	return storageErr("insert event", err)
}

// IncidentRepo stores unrecorded-order incidents in the "incidents" collection.
type IncidentRepo struct {
	Docs *docstore.Store
}

// SaveIncident implements incident.Store, replacing any earlier version.
func (r IncidentRepo) SaveIncident(ctx context.Context, inc incident.UnrecordedOrder) error {
	return storageErr("save incident", r.Docs.Put(ctx, "incidents", inc.ID, inc))
}
