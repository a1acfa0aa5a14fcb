package initload

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hkdb/dirsync/internal/cipher"
	"github.com/hkdb/dirsync/internal/directory"
	"github.com/hkdb/dirsync/internal/directoryval"
	"github.com/hkdb/dirsync/internal/fanout"
	"github.com/hkdb/dirsync/internal/person"
	"github.com/hkdb/dirsync/internal/reconcile"
	"github.com/hkdb/dirsync/internal/sourcedb"
)

const baseDN = "ou=user,ou=idnSync,o=acme"

func isSharedDN(dn string) bool { return false }

type fakeSource struct {
	rows []person.Record
}

func (f *fakeSource) PendingEvents(ctx context.Context, limit int) ([]sourcedb.Event, error) {
	return nil, nil
}
func (f *fakeSource) ReadOnlyEventsSince(ctx context.Context, watermark time.Time, limit int) ([]sourcedb.Event, error) {
	return nil, nil
}
func (f *fakeSource) LoadPerson(ctx context.Context, uniqueID int64) ([]person.Record, error) {
	var out []person.Record
	for _, r := range f.rows {
		if r.UniqueID == uniqueID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeSource) LoadPersonsByUsername(ctx context.Context, usernames ...string) ([]person.Record, error) {
	return nil, nil
}
func (f *fakeSource) IterAll(ctx context.Context, chunkSize int) iter.Seq2[person.Record, error] {
	return func(yield func(person.Record, error) bool) {
		for _, r := range f.rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}
func (f *fakeSource) WriteBack(ctx context.Context, updates map[int64]sourcedb.EventUpdate) error {
	return nil
}
func (f *fakeSource) Close() error { return nil }

func newReconciler(t *testing.T, dir directory.Gateway) *reconcile.Reconciler {
	t.Helper()
	c, err := cipher.New("testpassword")
	require.NoError(t, err)
	r := reconcile.New(dir, c, fanout.NewQueue(), "o=acme", isSharedDN)
	r.Now = func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRun_ProvisionsBaseDNChainAndETDSibling(t *testing.T) {
	dir := directory.NewFakeGateway()
	rec := newReconciler(t, dir)
	runner := New(dir, rec, 1000, true)

	src := &fakeSource{}
	err := runner.Run(context.Background(), []Tenant{{
		Config: reconcile.Tenant{Label: "acme", BaseDN: baseDN},
		Source: src,
	}})
	require.NoError(t, err)

	for _, dn := range []string{
		"o=acme",
		"ou=idnSync,o=acme",
		"ou=user,ou=idnSync,o=acme",
		"ou=idnSync,o=acme",
		"ou=ETD,ou=idnSync,o=acme",
	} {
		entry, err := dir.SearchByDN(context.Background(), dn)
		require.NoError(t, err)
		require.NotNilf(t, entry, "expected %s to be provisioned", dn)
	}

	org, err := dir.SearchByDN(context.Background(), "o=acme")
	require.NoError(t, err)
	require.Equal(t, "Organization", org.Attr("objectClass").Scalar, "o= level must carry capital-O Organization")

	ou, err := dir.SearchByDN(context.Background(), "ou=idnSync,o=acme")
	require.NoError(t, err)
	require.Equal(t, "organizationalUnit", ou.Attr("objectClass").Scalar)
}

func TestRun_MaterializesMissingEntriesAndDeletesStale(t *testing.T) {
	dir := directory.NewFakeGateway()
	dir.Seed(&directory.Entry{
		DN: "cn=ghost," + baseDN,
		Attributes: map[string]directoryval.Value{
			person.AttrCN:       directoryval.String("ghost"),
			person.AttrUniqueID: directoryval.String("999"),
		},
	})
	rec := newReconciler(t, dir)
	runner := New(dir, rec, 1000, true)

	src := &fakeSource{rows: []person.Record{
		{UniqueID: 4711, Username: "jdoe", Given: "Jane", Surname: "Doe"},
	}}
	err := runner.Run(context.Background(), []Tenant{{
		Config: reconcile.Tenant{Label: "acme", BaseDN: baseDN},
		Source: src,
	}})
	require.NoError(t, err)

	newEntry, err := dir.SearchByDN(context.Background(), "cn=jdoe,"+baseDN)
	require.NoError(t, err)
	require.NotNil(t, newEntry)
	require.Equal(t, "4711", newEntry.Attr(person.AttrUniqueID).Scalar)

	ghost, err := dir.SearchByDN(context.Background(), "cn=ghost,"+baseDN)
	require.NoError(t, err)
	require.Nil(t, ghost, "stale entry with no matching source row should be deleted")
}

func TestRun_SkipsInvalidIdentityRows(t *testing.T) {
	dir := directory.NewFakeGateway()
	rec := newReconciler(t, dir)
	runner := New(dir, rec, 1000, true)

	src := &fakeSource{rows: []person.Record{
		{UniqueID: 0, Username: ""},
	}}
	err := runner.Run(context.Background(), []Tenant{{
		Config: reconcile.Tenant{Label: "acme", BaseDN: baseDN},
		Source: src,
	}})
	require.NoError(t, err)

	scaffoldOnly := true
	for _, e := range dir.Entries() {
		if e.Attr(person.AttrUniqueID).Scalar != "" {
			scaffoldOnly = false
		}
	}
	require.True(t, scaffoldOnly, "invalid-identity row must not produce a person entry")
}

func TestRun_BlocksUntilContextCancelledWhenNotTerminating(t *testing.T) {
	dir := directory.NewFakeGateway()
	rec := newReconciler(t, dir)
	runner := New(dir, rec, 1000, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := runner.Run(ctx, []Tenant{{
		Config: reconcile.Tenant{Label: "acme", BaseDN: baseDN},
		Source: &fakeSource{},
	}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
