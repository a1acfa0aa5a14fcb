// Package tenant is the Tenant Scheduler: the top-level forever loop that
// walks the configured (database, base DN) pairs round after round,
// delegating each event to the Reconciler and the end-of-round fan-out
// queue to the Processor.
package tenant

import (
	"context"

	"github.com/hkdb/dirsync/internal/sourcedb"
)

// Config describes one tenant the Scheduler visits every round: which base
// DN its entries live under, whether it is the shared tenant, whether its
// event log must never be mutated, and how to obtain a Source Gateway for
// the round.
//
// OpenRound is called once per round and is expected to be cheap: this
// daemon keeps its *sql.DB connection pool for the life of the process,
// and OpenRound just wraps that pool in a new sourcedb.Gateway
// value. The Scheduler never calls the returned Gateway's Close — closing
// would tear down the shared pool — so the persistent *sql.DB is closed
// once at process shutdown by whoever constructed it, not by the
// Scheduler.
type Config struct {
	Label     string
	BaseDN    string
	Shared    bool
	ReadOnly  bool
	OpenRound func(ctx context.Context) (sourcedb.Gateway, error)
}
