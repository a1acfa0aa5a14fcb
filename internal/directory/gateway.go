// Package directory is the thin contract over the directory service the
// Reconciler writes to: bind/search/add/modify/modify-dn/delete plus a
// native password-change primitive. The gateway never imports the field
// map in internal/person — it only moves directoryval.Value bags around,
// so schema decisions stay entirely in the Reconciler (DESIGN NOTE:
// "cyclic dependency between Reconciler and Directory Gateway").
package directory

import (
	"context"

	"github.com/hkdb/dirsync/internal/directoryval"
)

// Entry is a directory record keyed by its DN.
type Entry struct {
	DN         string
	Attributes map[string]directoryval.Value
}

// Attr is a convenience accessor returning directoryval.Nil for an
// attribute the entry doesn't carry.
func (e *Entry) Attr(name string) directoryval.Value {
	if e == nil {
		return directoryval.Nil
	}
	if v, ok := e.Attributes[name]; ok {
		return v
	}
	return directoryval.Nil
}

// Gateway is the contract the Reconciler, Tenant Scheduler, and Initial
// Load components use to talk to the directory service. Implementations
// must be safe for sequential, single-goroutine-at-a-time use within one
// tenant round; there is no intra-process parallelism.
type Gateway interface {
	// Bind (re)establishes the privileged connection, retrying with
	// backoff on failure.
	Bind(ctx context.Context) error
	Close() error

	// SearchByDN returns the single entry at dn, or nil if it doesn't
	// exist.
	SearchByDN(ctx context.Context, dn string) (*Entry, error)

	// SearchByUniqueID returns every entry one level below baseDN whose
	// uniqueId attribute equals uniqueID. There may legitimately be more
	// than one due to historical duplicates.
	SearchByUniqueID(ctx context.Context, baseDN, uniqueID string) ([]*Entry, error)

	// SearchByCNSubtree returns every entry anywhere under rootDN whose cn
	// equals cn, used for the cross-tenant cn lookup in delete-in-directory
	// and to locate a cn inside the shared tenant.
	SearchByCNSubtree(ctx context.Context, rootDN, cn string) ([]*Entry, error)

	// ListAll returns every person entry anywhere under baseDN, used by
	// Initial Load to build the uidmap of already-synced uniqueIds.
	ListAll(ctx context.Context, baseDN string) ([]*Entry, error)

	Add(ctx context.Context, dn string, attrs map[string]directoryval.Value) error
	Modify(ctx context.Context, dn string, replace, delete map[string]directoryval.Value) error
	ModifyDN(ctx context.Context, dn, newRDN string) error
	Delete(ctx context.Context, dn string) error
	ChangePassword(ctx context.Context, dn, newPassword string) error
}
