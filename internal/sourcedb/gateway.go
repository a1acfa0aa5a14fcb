package sourcedb

import (
	"context"
	"iter"
	"time"

	"github.com/hkdb/dirsync/internal/person"
)

// Gateway is the contract the Tenant Scheduler and Reconciler use to read
// pending events and person rows from one tenant's source database, and to
// write event outcomes back.
type Gateway interface {
	// PendingEvents returns up to limit rows with status N or E, in the
	// order the source returns them — typically record_id ascending, but
	// not enforced.
	PendingEvents(ctx context.Context, limit int) ([]Event, error)

	// ReadOnlyEventsSince returns events with event_time strictly after
	// watermark, for tenants whose event log must never be mutated.
	ReadOnlyEventsSince(ctx context.Context, watermark time.Time, limit int) ([]Event, error)

	// LoadPerson returns every row matching uniqueID. Classification needs
	// the row count, including the 0 and >1 cases.
	LoadPerson(ctx context.Context, uniqueID int64) ([]person.Record, error)

	// LoadPersonsByUsername returns every row whose username is in
	// usernames, used by the end-of-cycle rename fan-out to look a cn up
	// by its old or new form.
	LoadPersonsByUsername(ctx context.Context, usernames ...string) ([]person.Record, error)

	// IterAll streams every row in the table, chunked internally for large
	// tenants, for Initial Load.
	IterAll(ctx context.Context, chunkSize int) iter.Seq2[person.Record, error]

	// WriteBack commits every update in a single transaction, one commit
	// per round. A read-only Gateway implementation may make this a no-op
	// and track a watermark instead.
	WriteBack(ctx context.Context, updates map[int64]EventUpdate) error

	Close() error
}
