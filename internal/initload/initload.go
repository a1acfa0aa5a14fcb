// Package initload is the Initial Load component: a bulk reconciler that
// provisions a tenant's directory base-DN scaffolding,
// materializes a directory entry for every source row, and deletes any
// directory entry that no longer has a matching source row.
package initload

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hkdb/dirsync/internal/directory"
	"github.com/hkdb/dirsync/internal/directoryval"
	"github.com/hkdb/dirsync/internal/logging"
	"github.com/hkdb/dirsync/internal/person"
	"github.com/hkdb/dirsync/internal/reconcile"
	"github.com/hkdb/dirsync/internal/sourcedb"
)

// Upserter is the one Reconciler capability Initial Load needs: create or
// diff-update a single row with isNew pinned to true for every row, since
// a bulk pass always treats a streamed row as "new" rather than tracking
// per-row novelty.
type Upserter interface {
	Upsert(ctx context.Context, tenant reconcile.Tenant, row person.Record, isNew bool) (string, error)
}

// DefaultChunkSize bounds memory on large tenants.
const DefaultChunkSize = 1000

// Tenant pairs a reconcile.Tenant with the Source Gateway Initial Load
// should stream rows from.
type Tenant struct {
	Config reconcile.Tenant
	Source sourcedb.Gateway
}

// Runner provisions, reconciles, and prunes the directory subtree for one
// or more tenants.
type Runner struct {
	Directory directory.Gateway
	Upsert    Upserter
	ChunkSize int
	// Terminate, if true, makes Run return after every tenant completes;
	// otherwise Run blocks on ctx until cancelled ("sleep forever" —
	// container-friendly hang).
	Terminate bool

	log zerolog.Logger
}

// New builds a Runner. chunkSize <= 0 defaults to DefaultChunkSize.
func New(dir directory.Gateway, upsert Upserter, chunkSize int, terminate bool) *Runner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Runner{
		Directory: dir,
		Upsert:    upsert,
		ChunkSize: chunkSize,
		Terminate: terminate,
		log:       logging.WithComponent("initload"),
	}
}

// Run provisions and reconciles every tenant in order, then either returns
// (Terminate) or blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, tenants []Tenant) error {
	for _, t := range tenants {
		if err := r.runTenant(ctx, t.Config, t.Source); err != nil {
			return fmt.Errorf("initload: tenant %s: %w", t.Config.Label, err)
		}
	}
	if r.Terminate {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *Runner) runTenant(ctx context.Context, tenant reconcile.Tenant, source sourcedb.Gateway) error {
	log := r.log.With().Str("tenant", tenant.Label).Logger()

	if err := r.ensureDNChain(ctx, tenant.BaseDN); err != nil {
		return err
	}
	if siblingBase, ok := etdSiblingBase(tenant.BaseDN); ok {
		if err := r.ensureDNChain(ctx, siblingBase); err != nil {
			return err
		}
	}

	uidmap, err := r.buildUIDMap(ctx, tenant.BaseDN)
	if err != nil {
		return err
	}
	log.Info().Int("existing", len(uidmap)).Msg("initial load: starting")

	count := 0
	for row, iterErr := range source.IterAll(ctx, r.ChunkSize) {
		if iterErr != nil {
			return fmt.Errorf("stream source rows: %w", iterErr)
		}
		if !row.HasValidIdentity() {
			log.Error().Msg("initial load: dropping row with missing uniqueid/username")
			continue
		}
		delete(uidmap, strconv.FormatInt(row.UniqueID, 10))
		if _, err := r.Upsert.Upsert(ctx, tenant, row, true); err != nil {
			return fmt.Errorf("upsert uniqueid=%d: %w", row.UniqueID, err)
		}
		count++
	}
	log.Info().Int("rows", count).Msg("initial load: source rows reconciled")

	for uid, dn := range uidmap {
		if err := r.Directory.Delete(ctx, dn); err != nil {
			return fmt.Errorf("delete stale entry %s (uniqueId=%s): %w", dn, uid, err)
		}
	}
	log.Info().Int("deleted", len(uidmap)).Msg("initial load: stale entries removed")
	return nil
}

// buildUIDMap indexes every previously synced entry under baseDN by its
// uniqueId attribute. A row streamed from the source removes its entry
// from this map; whatever remains afterward has no surviving source row
// and is deleted.
func (r *Runner) buildUIDMap(ctx context.Context, baseDN string) (map[string]string, error) {
	entries, err := r.Directory.ListAll(ctx, baseDN)
	if err != nil {
		return nil, fmt.Errorf("list existing entries under %s: %w", baseDN, err)
	}
	uidmap := make(map[string]string, len(entries))
	for _, e := range entries {
		uid := e.Attr(person.AttrUniqueID).Scalar
		if uid != "" {
			uidmap[uid] = e.DN
		}
	}
	return uidmap, nil
}

// ensureDNChain walks dn root-to-leaf (each parent before its children),
// creating every missing o=/ou= level.
// Components of any other naming attribute (typically the dc= root naming
// context) are assumed to pre-exist and are never created here.
func (r *Runner) ensureDNChain(ctx context.Context, dn string) error {
	rdns := splitDN(dn)
	for i := len(rdns) - 1; i >= 0; i-- {
		level := strings.Join(rdns[i:], ",")
		key, value, ok := strings.Cut(rdns[i], "=")
		if !ok {
			continue
		}
		var objectClass string
		switch strings.ToLower(key) {
		case "o":
			objectClass = "Organization"
		case "ou":
			objectClass = "organizationalUnit"
		default:
			continue
		}

		entry, err := r.Directory.SearchByDN(ctx, level)
		if err != nil {
			return fmt.Errorf("probe %s: %w", level, err)
		}
		if entry != nil {
			continue
		}
		attrs := map[string]directoryval.Value{
			"objectClass": directoryval.String(objectClass),
			key:           directoryval.String(value),
		}
		if err := r.Directory.Add(ctx, level, attrs); err != nil {
			return fmt.Errorf("create %s: %w", level, err)
		}
	}
	return nil
}

// etdSiblingBase implements the second base-DN provisioning rule: a
// tenant whose base DN starts with "ou=user," additionally gets a sibling
// "ou=ETD,ou=idnSync,<same parent>" chain.
func etdSiblingBase(baseDN string) (string, bool) {
	const prefix = "ou=user,"
	if !strings.HasPrefix(baseDN, prefix) {
		return "", false
	}
	parent := strings.TrimPrefix(baseDN, prefix)
	return "ou=ETD,ou=idnSync," + parent, true
}

func splitDN(dn string) []string {
	parts := strings.Split(dn, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
