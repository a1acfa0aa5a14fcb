package sourcedb

import (
	"context"
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hkdb/dirsync/internal/person"
)

const (
	testPersonTable = "persons"
	testEventTable  = "eventlog"
)

func openFixture(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/fixture.db?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE persons (
		uniqueid INTEGER PRIMARY KEY,
		username TEXT, given TEXT, surname TEXT,
		email_employee TEXT, email_student TEXT, password TEXT, birth_date TEXT,
		functions TEXT, school_ids TEXT,
		person_nr INTEGER, person_nr_obf INTEGER, person_nr_student INTEGER, person_nr_obf_student INTEGER,
		sap_persnr TEXT, ident_nr INTEGER, matrikelnummer TEXT, bpk TEXT,
		org_einheiten TEXT, benutzergruppe TEXT,
		chip_id_employee TEXT, chip_id_student TEXT, chip_id_further TEXT,
		mirfare_id_employee TEXT, mirfare_id_student TEXT, mirfare_id_further TEXT,
		acc_st_employee TEXT, acc_st_student TEXT, acc_st_further TEXT,
		employee_active TEXT, student_active TEXT, further_active TEXT
	);
	CREATE TABLE eventlog (
		record_id INTEGER PRIMARY KEY,
		table_key TEXT, status TEXT, event_type INTEGER, event_time DATETIME,
		perpetrator TEXT, table_name TEXT, column_name TEXT, old_value TEXT, new_value TEXT,
		synch_id TEXT, synch_online_flag TEXT, transaction_flag TEXT,
		read_time DATETIME, error_message TEXT, attempt INTEGER, admin_notify_flag TEXT
	);`
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func insertPerson(t *testing.T, db *sql.DB, r person.Record) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO persons (uniqueid, username, given, surname, email_student) VALUES (?, ?, ?, ?, ?)`,
		r.UniqueID, r.Username, r.Given, r.Surname, r.EmailStudent)
	require.NoError(t, err)
}

func insertEvent(t *testing.T, db *sql.DB, recordID int64, uniqueID int64, et EventType, status Status, attempt int, eventTime time.Time) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO eventlog (record_id, table_key, status, event_type, event_time, table_name, attempt) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		recordID, "uniqueid="+strconv.FormatInt(uniqueID, 10), string(status), int(et), eventTime, PersonsView, attempt,
	)
	require.NoError(t, err)
}

func TestSQLGatewayPendingEventsAndWriteBack(t *testing.T) {
	db := openFixture(t)
	insertPerson(t, db, person.Record{UniqueID: 4711, Username: "jdoe", Given: "Jane", Surname: "Doe"})
	insertEvent(t, db, 1, 4711, EventInsert, StatusNew, 0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	gw := NewSQLGateway(db, testPersonTable, testEventTable, false)
	ctx := context.Background()

	events, err := gw.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].RecordID)
	require.Equal(t, EventInsert, events[0].EventType)

	uid, err := events[0].UniqueID()
	require.NoError(t, err)
	require.Equal(t, int64(4711), uid)

	rows, err := gw.LoadPerson(ctx, uid)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "jdoe", rows[0].Username)

	err = gw.WriteBack(ctx, map[int64]EventUpdate{
		1: {Status: StatusSuccess, Attempt: 0, ReadTime: time.Now()},
	})
	require.NoError(t, err)

	events, err = gw.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestSQLGatewayLoadPersonsByUsername(t *testing.T) {
	db := openFixture(t)
	insertPerson(t, db, person.Record{UniqueID: 1, Username: "old"})
	insertPerson(t, db, person.Record{UniqueID: 2, Username: "new"})

	gw := NewSQLGateway(db, testPersonTable, testEventTable, false)
	rows, err := gw.LoadPersonsByUsername(context.Background(), "old", "new")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestSQLGatewayIterAllChunked(t *testing.T) {
	db := openFixture(t)
	for i := int64(1); i <= 2500; i++ {
		insertPerson(t, db, person.Record{UniqueID: i, Username: "u"})
	}
	gw := NewSQLGateway(db, testPersonTable, testEventTable, false)

	count := 0
	for rec, err := range gw.IterAll(context.Background(), 1000) {
		require.NoError(t, err)
		require.NotZero(t, rec.UniqueID)
		count++
	}
	require.Equal(t, 2500, count)
}

func TestSQLGatewayReadOnlyNeverWritesBack(t *testing.T) {
	db := openFixture(t)
	insertEvent(t, db, 1, 1, EventUpdate, StatusNew, 0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	gw := NewSQLGateway(db, testPersonTable, testEventTable, true)
	ctx := context.Background()

	readTime := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	eventTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := gw.WriteBack(ctx, map[int64]EventUpdate{1: {Status: StatusSuccess, ReadTime: readTime, EventTime: eventTime}})
	require.NoError(t, err)
	require.Equal(t, eventTime, gw.Watermark())

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM eventlog WHERE record_id = 1`).Scan(&status))
	require.Equal(t, string(StatusNew), status)
}

func TestEventValidate(t *testing.T) {
	ev := Event{TableKey: "uniqueid=42", TableName: PersonsView, EventType: EventInsert}
	require.NoError(t, ev.Validate())

	bad := Event{TableKey: "bogus", TableName: PersonsView, EventType: EventInsert}
	require.Error(t, bad.Validate())

	badType := Event{TableKey: "uniqueid=42", TableName: PersonsView, EventType: 99}
	require.Error(t, badType.Validate())
}
