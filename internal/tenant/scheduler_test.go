package tenant

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hkdb/dirsync/internal/cipher"
	"github.com/hkdb/dirsync/internal/directory"
	"github.com/hkdb/dirsync/internal/fanout"
	"github.com/hkdb/dirsync/internal/person"
	"github.com/hkdb/dirsync/internal/reconcile"
	"github.com/hkdb/dirsync/internal/sourcedb"
)

const testBaseDN = "ou=user,ou=acme,o=idnSync"

type fakeTenantSource struct {
	pending        []sourcedb.Event
	readOnlySince  []sourcedb.Event
	byUID          map[int64][]person.Record
	writeBackCalls []map[int64]sourcedb.EventUpdate
}

func (f *fakeTenantSource) PendingEvents(ctx context.Context, limit int) ([]sourcedb.Event, error) {
	return f.pending, nil
}
func (f *fakeTenantSource) ReadOnlyEventsSince(ctx context.Context, watermark time.Time, limit int) ([]sourcedb.Event, error) {
	var out []sourcedb.Event
	for _, ev := range f.readOnlySince {
		if ev.EventTime.After(watermark) {
			out = append(out, ev)
		}
	}
	return out, nil
}
func (f *fakeTenantSource) LoadPerson(ctx context.Context, uniqueID int64) ([]person.Record, error) {
	return f.byUID[uniqueID], nil
}
func (f *fakeTenantSource) LoadPersonsByUsername(ctx context.Context, usernames ...string) ([]person.Record, error) {
	return nil, nil
}
func (f *fakeTenantSource) IterAll(ctx context.Context, chunkSize int) iter.Seq2[person.Record, error] {
	return func(yield func(person.Record, error) bool) {}
}
func (f *fakeTenantSource) WriteBack(ctx context.Context, updates map[int64]sourcedb.EventUpdate) error {
	f.writeBackCalls = append(f.writeBackCalls, updates)
	return nil
}
func (f *fakeTenantSource) Close() error { return nil }

func newTestScheduler(t *testing.T, tenants []Config, maxRecords int) (*Scheduler, *directory.FakeGateway) {
	t.Helper()
	dir := directory.NewFakeGateway()
	c, err := cipher.New("testpassword")
	require.NoError(t, err)
	queue := fanout.NewQueue()
	isShared := func(dn string) bool { return false }
	r := reconcile.New(dir, c, queue, testBaseDN, isShared)
	r.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	s := NewScheduler(r, nil, queue, tenants, maxRecords, time.Millisecond, "")
	s.log = zerolog.Nop()
	s.Now = r.Now
	return s, dir
}

func TestRunRound_ProcessesPendingEventsAndWritesBack(t *testing.T) {
	src := &fakeTenantSource{
		pending: []sourcedb.Event{
			{RecordID: 1, TableKey: "uniqueid=4711", TableName: sourcedb.PersonsView, EventType: sourcedb.EventInsert, EventTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		byUID: map[int64][]person.Record{
			4711: {{UniqueID: 4711, Username: "jdoe", Given: "Jane", Surname: "Doe"}},
		},
	}
	tc := Config{Label: "acme", BaseDN: testBaseDN, OpenRound: func(ctx context.Context) (sourcedb.Gateway, error) {
		return src, nil
	}}
	s, dir := newTestScheduler(t, []Config{tc}, 10)

	drainFast := s.runRound(context.Background())
	require.False(t, drainFast)
	require.Len(t, src.writeBackCalls, 1)
	update, ok := src.writeBackCalls[0][1]
	require.True(t, ok)
	require.Equal(t, sourcedb.StatusSuccess, update.Status)

	entry, err := dir.SearchByDN(context.Background(), "cn=jdoe,"+testBaseDN)
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestRunRound_DrainFastWhenBatchFull(t *testing.T) {
	src := &fakeTenantSource{
		pending: []sourcedb.Event{
			{RecordID: 1, TableKey: "uniqueid=1", TableName: sourcedb.PersonsView, EventType: sourcedb.EventInsert},
			{RecordID: 2, TableKey: "uniqueid=2", TableName: sourcedb.PersonsView, EventType: sourcedb.EventInsert},
		},
		byUID: map[int64][]person.Record{
			1: {{UniqueID: 1, Username: "a", Given: "A", Surname: "A"}},
			2: {{UniqueID: 2, Username: "b", Given: "B", Surname: "B"}},
		},
	}
	tc := Config{Label: "acme", BaseDN: testBaseDN, OpenRound: func(ctx context.Context) (sourcedb.Gateway, error) {
		return src, nil
	}}
	s, _ := newTestScheduler(t, []Config{tc}, 2)

	drainFast := s.runRound(context.Background())
	require.True(t, drainFast)
}

func TestRunRound_ReadOnlyTenantAdvancesWatermarkWithoutWriteBack(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	src := &fakeTenantSource{
		readOnlySince: []sourcedb.Event{
			{RecordID: 1, TableKey: "uniqueid=1", TableName: sourcedb.PersonsView, EventType: sourcedb.EventUpdate, EventTime: t1},
			{RecordID: 2, TableKey: "uniqueid=2", TableName: sourcedb.PersonsView, EventType: sourcedb.EventUpdate, EventTime: t2},
		},
		byUID: map[int64][]person.Record{
			1: {{UniqueID: 1, Username: "a", Given: "A", Surname: "A"}},
			2: {{UniqueID: 2, Username: "b", Given: "B", Surname: "B"}},
		},
	}
	tc := Config{Label: "ro", BaseDN: testBaseDN, ReadOnly: true, OpenRound: func(ctx context.Context) (sourcedb.Gateway, error) {
		return src, nil
	}}
	s, _ := newTestScheduler(t, []Config{tc}, 10)

	s.runRound(context.Background())
	require.Empty(t, src.writeBackCalls)
	require.Equal(t, t2, s.watermarks["ro"])

	// second round only sees events after the advanced watermark.
	s.runRound(context.Background())
	require.Empty(t, src.writeBackCalls)
	require.Equal(t, t2, s.watermarks["ro"])
}

func TestRunRound_PanicInTenantRoundIsRecovered(t *testing.T) {
	tc := Config{Label: "boom", BaseDN: testBaseDN, OpenRound: func(ctx context.Context) (sourcedb.Gateway, error) {
		panic("simulated driver panic")
	}}
	ok := Config{Label: "fine", BaseDN: testBaseDN, OpenRound: func(ctx context.Context) (sourcedb.Gateway, error) {
		return &fakeTenantSource{}, nil
	}}
	s, _ := newTestScheduler(t, []Config{tc, ok}, 10)

	require.NotPanics(t, func() {
		s.runRound(context.Background())
	})
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	tc := Config{Label: "acme", BaseDN: testBaseDN, OpenRound: func(ctx context.Context) (sourcedb.Gateway, error) {
		return &fakeTenantSource{}, nil
	}}
	s, _ := newTestScheduler(t, []Config{tc}, 10)

	var sleeps int
	ctx, cancel := context.WithCancel(context.Background())
	s.Sleep = func(ctx context.Context, d time.Duration) {
		sleeps++
		if sleeps >= 2 {
			cancel()
		}
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	require.GreaterOrEqual(t, sleeps, 2)
}
