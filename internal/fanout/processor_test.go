package fanout

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hkdb/dirsync/internal/cipher"
	"github.com/hkdb/dirsync/internal/directory"
	"github.com/hkdb/dirsync/internal/directoryval"
	"github.com/hkdb/dirsync/internal/person"
	"github.com/hkdb/dirsync/internal/sourcedb"
)

const sharedDN = "ou=user,ou=idnSync,o=ph15"

func strp(s string) *string { return &s }

type fakeSharedSource struct {
	byUsername map[string][]person.Record
}

func (f *fakeSharedSource) PendingEvents(ctx context.Context, limit int) ([]sourcedb.Event, error) {
	return nil, nil
}
func (f *fakeSharedSource) ReadOnlyEventsSince(ctx context.Context, watermark time.Time, limit int) ([]sourcedb.Event, error) {
	return nil, nil
}
func (f *fakeSharedSource) LoadPerson(ctx context.Context, uniqueID int64) ([]person.Record, error) {
	return nil, nil
}
func (f *fakeSharedSource) LoadPersonsByUsername(ctx context.Context, usernames ...string) ([]person.Record, error) {
	var out []person.Record
	for _, u := range usernames {
		out = append(out, f.byUsername[u]...)
	}
	return out, nil
}
func (f *fakeSharedSource) IterAll(ctx context.Context, chunkSize int) iter.Seq2[person.Record, error] {
	return func(yield func(person.Record, error) bool) {}
}
func (f *fakeSharedSource) WriteBack(ctx context.Context, updates map[int64]sourcedb.EventUpdate) error {
	return nil
}
func (f *fakeSharedSource) Close() error { return nil }

type recordingUpserter struct {
	upserted []person.Record
}

func (u *recordingUpserter) Upsert(ctx context.Context, row person.Record) error {
	u.upserted = append(u.upserted, row)
	return nil
}

func TestProcessEndOfCycle_RenameReplaysIntoSharedTenant(t *testing.T) {
	dir := directory.NewFakeGateway()
	c, err := cipher.New("testpassword")
	require.NoError(t, err)
	src := &fakeSharedSource{byUsername: map[string][]person.Record{
		"janed": {{UniqueID: 99, Username: "janed"}},
	}}
	up := &recordingUpserter{}
	p := NewProcessor(dir, c, src, up, sharedDN)

	q := NewQueue()
	q.PushRename("jdoe", "janed")

	err = p.ProcessEndOfCycle(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, up.upserted, 1)
	require.Equal(t, "janed", up.upserted[0].Username)
}

func TestProcessEndOfCycle_AttributeChangeReplacesWatchedAttrsOnly(t *testing.T) {
	dir := directory.NewFakeGateway()
	dir.Seed(&directory.Entry{
		DN: "cn=jdoe," + sharedDN,
		Attributes: map[string]directoryval.Value{
			person.AttrCN:            directoryval.String("jdoe"),
			person.AttrGivenName:     directoryval.String("Old"),
			person.AttrAccStEmployee: directoryval.String("active"),
		},
	})
	c, err := cipher.New("testpassword")
	require.NoError(t, err)
	src := &fakeSharedSource{}
	p := NewProcessor(dir, c, src, &recordingUpserter{}, sharedDN)
	p.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	q := NewQueue()
	q.PushAttributeChange("jdoe", person.Record{Username: "jdoe", Given: "New", Surname: "Doe", EmailStudent: strp("new@x")})

	err = p.ProcessEndOfCycle(context.Background(), q)
	require.NoError(t, err)

	entry, _ := dir.SearchByDN(context.Background(), "cn=jdoe,"+sharedDN)
	require.Equal(t, "New", entry.Attr(person.AttrGivenName).Scalar)
	require.Equal(t, "Doe", entry.Attr(person.AttrSN).Scalar)
	require.Equal(t, "new@x", entry.Attr(person.AttrEmailStudent).Scalar)
	// account-status attribute must never be touched by attribute fan-out.
	require.Equal(t, "active", entry.Attr(person.AttrAccStEmployee).Scalar)
}

func TestProcessEndOfCycle_NoMatchingCNIsANoop(t *testing.T) {
	dir := directory.NewFakeGateway()
	c, err := cipher.New("testpassword")
	require.NoError(t, err)
	p := NewProcessor(dir, c, &fakeSharedSource{}, &recordingUpserter{}, sharedDN)

	q := NewQueue()
	q.PushAttributeChange("ghost", person.Record{Username: "ghost", Given: "X"})

	err = p.ProcessEndOfCycle(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 0, dir.ModifyCalls)
}
