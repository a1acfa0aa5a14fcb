// Package reconcile is the Reconciler: the per-event state machine that
// interprets a change-log event, locates the directory record, diffs and
// applies changes, and reports the per-event status. It hosts
// nearly all of the system's edge-case policy.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/dirsync/internal/cipher"
	"github.com/hkdb/dirsync/internal/directory"
	"github.com/hkdb/dirsync/internal/directoryval"
	"github.com/hkdb/dirsync/internal/fanout"
	"github.com/hkdb/dirsync/internal/gentime"
	"github.com/hkdb/dirsync/internal/logging"
	"github.com/hkdb/dirsync/internal/person"
	"github.com/hkdb/dirsync/internal/sourcedb"
)

// Tenant is the minimal per-round configuration the Reconciler needs: the
// base DN its directory entries live under, and whether it is the shared
// tenant.
type Tenant struct {
	Label  string
	BaseDN string
	Shared bool
}

// Reconciler processes events for one tenant round at a time. It is safe
// to reuse across tenants and rounds; all per-tenant state is passed in.
type Reconciler struct {
	Directory directory.Gateway
	Cipher    *cipher.Cipher
	Fanout    *fanout.Queue

	// RootDN is the whole-tree search root used for the cross-tenant cn
	// lookup in delete-in-directory — a superset of
	// every tenant's BaseDN.
	RootDN string

	// IsSharedDN reports whether a directory DN belongs to the shared
	// tenant, used by delete-in-directory's cascade check. Built from the
	// configurable shared-tenant marker (DESIGN NOTE: "Shared-tenant
	// identification").
	IsSharedDN func(dn string) bool

	// InitialLoad suppresses fan-out entirely during a bulk reconciliation
	// pass.
	InitialLoad bool

	// FixedIV overrides the random IV new password ciphertexts are
	// generated with. Set only for regression tests (the
	// compare-before-write equality check uses the existing ciphertext's
	// IV, not this field) — an explicit field rather than
	// a package-wide override, so production code paths can never
	// accidentally observe a test fixture's value.
	FixedIV []byte

	// Now is injected for deterministic tests; defaults to time.Now.
	Now func() time.Time

	log zerolog.Logger
}

// New builds a Reconciler. isSharedDN and fq must not be nil.
func New(dir directory.Gateway, ciph *cipher.Cipher, fq *fanout.Queue, rootDN string, isSharedDN func(string) bool) *Reconciler {
	return &Reconciler{
		Directory:  dir,
		Cipher:     ciph,
		Fanout:     fq,
		RootDN:     rootDN,
		IsSharedDN: isSharedDN,
		Now:        time.Now,
		log:        logging.WithComponent("reconcile"),
	}
}

// EncodePassword implements person.PasswordEncoder using a fresh random
// IV (or FixedIV when set) — the "new entry" / "password genuinely
// changed" encryption path.
// The compare-before-write IV-reuse optimization in updateExisting bypasses
// this and calls Cipher.Encrypt directly with the existing IV.
func (r *Reconciler) EncodePassword(cleartext string) (string, error) {
	return r.Cipher.Encrypt([]byte(cleartext), r.FixedIV)
}

// ProcessEvent implements the Validate -> LoadSource -> Classify -> Apply
// state machine for a single event and returns the writeback to apply.
func (r *Reconciler) ProcessEvent(ctx context.Context, tenant Tenant, source sourcedb.Gateway, ev sourcedb.Event) sourcedb.EventUpdate {
	readTime := r.Now().UTC()

	if err := ev.Validate(); err != nil {
		r.log.Error().Err(err).Int64("record_id", ev.RecordID).Str("tenant", tenant.Label).Msg("event failed validation")
		return sourcedb.EventUpdate{Status: sourcedb.StatusFatal, Attempt: ev.Attempt, ErrorMessage: err.Error(), ReadTime: readTime, EventTime: ev.EventTime}
	}
	uid, _ := ev.UniqueID() // already validated above

	rows, err := source.LoadPerson(ctx, uid)
	if err != nil {
		return r.retryOrFail(ev, fmt.Errorf("load source row %d: %w", uid, err), readTime)
	}

	act, status := classify(ev.EventType, len(rows))
	var warnMsg string

	switch act {
	case actionUpsertSingle:
		isNew := ev.EventType == sourcedb.EventInsert
		msg, err := r.Upsert(ctx, tenant, rows[0], isNew)
		if err != nil {
			return r.retryOrFail(ev, err, readTime)
		}
		warnMsg = msg

	case actionUpsertEachWarn:
		if ev.EventType == sourcedb.EventDelete {
			warnMsg = fmt.Sprintf("record %d still present in source %s on delete event, upserted instead", uid, tenant.Label)
		} else {
			warnMsg = fmt.Sprintf("duplicate uniqueid %d in %s: %d rows, upserted each", uid, tenant.Label, len(rows))
		}
		for _, row := range rows {
			if _, err := r.Upsert(ctx, tenant, row, false); err != nil {
				return r.retryOrFail(ev, err, readTime)
			}
		}

	case actionDeleteInDirectory:
		if ev.EventType != sourcedb.EventDelete {
			warnMsg = fmt.Sprintf("record %d not found in source %s", uid, tenant.Label)
		}
		if err := r.DeleteInDirectory(ctx, tenant, uid); err != nil {
			return r.retryOrFail(ev, err, readTime)
		}
	}

	if warnMsg != "" {
		status = sourcedb.StatusWarning
	}
	return sourcedb.EventUpdate{Status: status, Attempt: ev.Attempt, ErrorMessage: warnMsg, ReadTime: readTime, EventTime: ev.EventTime}
}

// retryOrFail turns a runtime directory/DB error into the transient-then-
// fatal writeback progression: attempt is incremented first, and only
// becomes fatal once the incremented value exceeds sourcedb.MaxAttempts.
func (r *Reconciler) retryOrFail(ev sourcedb.Event, err error, readTime time.Time) sourcedb.EventUpdate {
	attempt := ev.Attempt + 1
	status := ClassifyError(err)
	if attempt > sourcedb.MaxAttempts {
		status = sourcedb.StatusFatal
	}
	r.log.Error().Err(err).Int64("record_id", ev.RecordID).Int("attempt", attempt).Msg("reconcile error")
	return sourcedb.EventUpdate{Status: status, Attempt: attempt, ErrorMessage: err.Error(), ReadTime: readTime, EventTime: ev.EventTime}
}

// ClassifyError maps a runtime error from the Directory/Source Gateway
// into its writeback status. Every error that reaches here already passed
// event validation, so there is only one runtime category left: a
// transient directory/DB failure — distinct from the Validation and
// Semantic-mismatch categories, which ProcessEvent handles directly
// without ever constructing a Go error.
func ClassifyError(err error) sourcedb.Status {
	if err == nil {
		return sourcedb.StatusSuccess
	}
	return sourcedb.StatusTransient
}

// Upsert locates the target directory entry and creates or diff-updates
// it. It returns a non-empty warning message for semantic mismatches that
// do not prevent the write (e.g. "insert found existing") — a real error
// is only returned for Gateway failures. A row with an empty uniqueid or
// username is dropped with a logged error and reported as success.
func (r *Reconciler) Upsert(ctx context.Context, tenant Tenant, row person.Record, isNew bool) (string, error) {
	if !row.HasValidIdentity() {
		r.log.Error().Int64("uniqueid", row.UniqueID).Str("tenant", tenant.Label).Msg("upsert: dropping record with missing uniqueid/username")
		return "", nil
	}

	dn := "cn=" + row.Username + "," + tenant.BaseDN
	entry, err := r.Directory.SearchByDN(ctx, dn)
	if err != nil {
		return "", fmt.Errorf("upsert: locate %s: %w", dn, err)
	}
	if entry == nil {
		matches, err := r.Directory.SearchByUniqueID(ctx, tenant.BaseDN, strconv.FormatInt(row.UniqueID, 10))
		if err != nil {
			return "", fmt.Errorf("upsert: locate uniqueId=%d: %w", row.UniqueID, err)
		}
		if len(matches) > 1 {
			return "", fmt.Errorf("upsert: %d entries found for uniqueId=%d under %s, giving up", len(matches), row.UniqueID, tenant.BaseDN)
		}
		if len(matches) == 1 {
			entry = matches[0]
		}
	}

	if entry == nil {
		return "", r.create(ctx, tenant, row)
	}

	var warnMsg string
	if isNew {
		warnMsg = fmt.Sprintf("found dn %s when event says record %d should be new", entry.DN, row.UniqueID)
	}
	if err := r.updateExisting(ctx, tenant, entry, row); err != nil {
		return "", err
	}
	return warnMsg, nil
}

// create adds a brand new entry, sets its native password if any, then
// calls the (permanently disabled) cross-tenant create hook.
func (r *Reconciler) create(ctx context.Context, tenant Tenant, row person.Record) error {
	attrs, err := row.Attributes(r)
	if err != nil {
		return fmt.Errorf("create: coerce attributes: %w", err)
	}
	attrs[person.AttrEtlTimestamp] = directoryval.String(gentime.Format(r.Now()))

	objectClasses := append(append([]string{}, person.PersonObjectClasses...), person.SyncObjectClass)
	attrs["objectClass"] = directoryval.List(objectClasses)

	dn := "cn=" + row.Username + "," + tenant.BaseDN
	if err := r.Directory.Add(ctx, dn, attrs); err != nil {
		return fmt.Errorf("create: add %s: %w", dn, err)
	}

	if row.Password != nil && *row.Password != "" {
		if err := r.Directory.ChangePassword(ctx, dn, *row.Password); err != nil {
			return fmt.Errorf("create: set password for %s: %w", dn, err)
		}
	}

	return r.createInSharedTenant(ctx, tenant, row)
}

// createInSharedTenant is a cross-tenant record-creation hook, kept
// permanently disabled: the shared tenant assigns its own uniqueid, so a
// record created here from a non-shared-tenant insert could never be
// linked back to its source row. Kept as a named extension point rather
// than deleted.
func (r *Reconciler) createInSharedTenant(ctx context.Context, tenant Tenant, row person.Record) error {
	return nil
}

// updateExisting diffs and applies changes against an entry already
// located by dn or uniqueId, handling rename, password, and attribute
// replace/delete in one pass.
func (r *Reconciler) updateExisting(ctx context.Context, tenant Tenant, entry *directory.Entry, row person.Record) error {
	sourceAttrs, err := row.Attributes(r)
	if err != nil {
		return fmt.Errorf("update: coerce attributes: %w", err)
	}
	r.reconcilePasswordDiff(entry, row, sourceAttrs)

	replace, del := diffAttributes(sourceAttrs, entry.Attributes)

	dn := entry.DN
	if newCNVal, renaming := replace[person.AttrCN]; renaming {
		oldCN := entry.Attr(person.AttrCN).Scalar
		newCN := newCNVal.Scalar
		if err := r.Directory.ModifyDN(ctx, dn, "cn="+newCN); err != nil {
			return fmt.Errorf("update: rename %s to cn=%s: %w", dn, newCN, err)
		}
		delete(replace, person.AttrCN)
		_, rest, _ := strings.Cut(dn, ",")
		dn = "cn=" + newCN + "," + rest
		if !tenant.Shared && !r.InitialLoad {
			r.Fanout.PushRename(oldCN, newCN)
		}
	}

	passwordChanged := false
	if _, ok := replace[person.AttrPassword]; ok {
		passwordChanged = true
	}

	if len(replace) > 0 || len(del) > 0 {
		replace[person.AttrEtlTimestamp] = directoryval.String(gentime.Format(r.Now()))
		if err := r.Directory.Modify(ctx, dn, replace, del); err != nil {
			return fmt.Errorf("update: modify %s: %w", dn, err)
		}
	}

	if passwordChanged {
		if err := r.Directory.ChangePassword(ctx, dn, *row.Password); err != nil {
			return fmt.Errorf("update: set password for %s: %w", dn, err)
		}
	}

	if !tenant.Shared && !r.InitialLoad {
		for _, attr := range person.WatchedFanoutAttributes {
			if _, ok := replace[attr]; ok {
				r.Fanout.PushAttributeChange(row.Username, row)
				break
			}
		}
	}

	return nil
}

// reconcilePasswordDiff implements the compare-before-write optimization:
// if the source password, re-encrypted under the existing ciphertext's IV,
// matches the stored ciphertext byte-for-byte, the password did not
// actually change and sourceAttrs is overwritten with the existing value
// so the generic diff sees no change. Otherwise sourceAttrs already holds
// a fresh-IV ciphertext (from row.Attributes), which is the correct value
// to write.
func (r *Reconciler) reconcilePasswordDiff(entry *directory.Entry, row person.Record, sourceAttrs map[string]directoryval.Value) {
	if row.Password == nil || *row.Password == "" {
		return
	}
	current := entry.Attr(person.AttrPassword)
	if current.IsAbsent() {
		return
	}
	iv, ok := cipher.ExtractIV(current.Scalar)
	if !ok {
		return
	}
	reencrypted, err := r.Cipher.Encrypt([]byte(*row.Password), iv)
	if err != nil {
		return
	}
	if reencrypted == current.Scalar {
		sourceAttrs[person.AttrPassword] = current
	}
}

// diffAttributes computes the REPLACE and DELETE sets: REPLACE for
// non-absent source values that differ from the directory, DELETE for
// directory values whose source is now absent. uniqueId is never deleted
// even if the source somehow coerced to absent.
func diffAttributes(source map[string]directoryval.Value, current map[string]directoryval.Value) (replace, del map[string]directoryval.Value) {
	replace = make(map[string]directoryval.Value)
	del = make(map[string]directoryval.Value)
	for attr, sv := range source {
		cv := current[attr]
		if sv.Equal(cv) {
			continue
		}
		if sv.IsAbsent() {
			if attr == person.AttrUniqueID {
				continue
			}
			if !cv.IsAbsent() {
				del[attr] = directoryval.Nil
			}
			continue
		}
		replace[attr] = sv
	}
	return replace, del
}

// DeleteInDirectory removes every entry matching uniqueId under the
// tenant base, then cascade-deletes a lone shared-tenant twin that no
// longer has any account-status attribute set.
func (r *Reconciler) DeleteInDirectory(ctx context.Context, tenant Tenant, uniqueID int64) error {
	entries, err := r.Directory.SearchByUniqueID(ctx, tenant.BaseDN, strconv.FormatInt(uniqueID, 10))
	if err != nil {
		return fmt.Errorf("delete: locate uniqueId=%d: %w", uniqueID, err)
	}

	var cns []string
	for _, e := range entries {
		if err := r.Directory.Delete(ctx, e.DN); err != nil {
			return fmt.Errorf("delete: %s: %w", e.DN, err)
		}
		cns = append(cns, e.Attr(person.AttrCN).Scalar)
	}

	if tenant.Shared {
		return nil
	}
	for _, cn := range cns {
		if err := r.cascadeDeleteSharedTwin(ctx, cn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) cascadeDeleteSharedTwin(ctx context.Context, cn string) error {
	matches, err := r.Directory.SearchByCNSubtree(ctx, r.RootDN, cn)
	if err != nil {
		return fmt.Errorf("delete: cross-tree search cn=%s: %w", cn, err)
	}
	if len(matches) != 1 {
		r.log.Debug().Str("cn", cn).Int("matches", len(matches)).Msg("not deleting in shared tenant: ambiguous match count")
		return nil
	}
	m := matches[0]
	if !r.IsSharedDN(m.DN) {
		r.log.Debug().Str("cn", cn).Str("dn", m.DN).Msg("not deleting: sole match is not in shared tenant")
		return nil
	}
	for _, attr := range person.AccountStatusAttributes {
		if !m.Attr(attr).IsAbsent() {
			r.log.Debug().Str("cn", cn).Str("dn", m.DN).Msg("not deleting in shared tenant: account status still set")
			return nil
		}
	}
	if err := r.Directory.Delete(ctx, m.DN); err != nil {
		return fmt.Errorf("delete: shared-tenant twin %s: %w", m.DN, err)
	}
	return nil
}
