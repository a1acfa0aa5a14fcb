package sourcedb

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/dirsync/internal/logging"
	"github.com/hkdb/dirsync/internal/person"
)

// personColumns lists the persons-view columns selected by every query,
// in the order scanRow expects.
var personColumns = []string{
	person.ColUniqueID, person.ColUsername, person.ColGiven, person.ColSurname,
	person.ColEmailEmployee, person.ColEmailStudent, person.ColPassword, person.ColBirthDate,
	person.ColFunctions, person.ColSchoolIDs,
	person.ColPersonNr, person.ColPersonNrOBF, person.ColPersonNrStudent, person.ColPersonNrOBFStudent,
	person.ColSapPersnr, person.ColIdentNr, person.ColMatrikelnummer, person.ColBPK,
	person.ColOrgEinheiten, person.ColBenutzergruppe,
	person.ColChipIDEmployee, person.ColChipIDStudent, person.ColChipIDFurther,
	person.ColMirfareIDEmployee, person.ColMirfareIDStudent, person.ColMirfareIDFurther,
	person.ColAccStEmployee, person.ColAccStStudent, person.ColAccStFurther,
	person.ColEmployeeActive, person.ColStudentActive, person.ColFurtherActive,
}

// SQLGateway implements Gateway over database/sql, parameterized with "?"
// placeholders the way modernc.org/sqlite (the bundled fixture driver)
// expects.
type SQLGateway struct {
	db          *sql.DB
	personTable string
	eventTable  string
	readOnly    bool
	watermark   time.Time
	log         zerolog.Logger
}

// NewSQLGateway wraps an already-open *sql.DB. personTable and eventTable
// name the tenant's persons view and event-log table; read-only tenants
// never issue a writeback.
func NewSQLGateway(db *sql.DB, personTable, eventTable string, readOnly bool) *SQLGateway {
	return &SQLGateway{
		db:          db,
		personTable: personTable,
		eventTable:  eventTable,
		readOnly:    readOnly,
		log:         logging.WithComponent("sourcedb"),
	}
}

func (g *SQLGateway) Close() error { return g.db.Close() }

func (g *SQLGateway) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s IN (?, ?) ORDER BY %s LIMIT ?`,
		ColRecordID, ColTableKey, ColTableName, ColEventType, ColEventTime,
		ColStatus, ColAttempt, ColErrorMessage, ColReadTime,
		g.eventTable, ColStatus, ColRecordID,
	)
	rows, err := g.db.QueryContext(ctx, query, string(StatusNew), string(StatusTransient), limit)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: pending events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (g *SQLGateway) ReadOnlyEventsSince(ctx context.Context, watermark time.Time, limit int) ([]Event, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s > ? ORDER BY %s LIMIT ?`,
		ColRecordID, ColTableKey, ColTableName, ColEventType, ColEventTime,
		ColStatus, ColAttempt, ColErrorMessage, ColReadTime,
		g.eventTable, ColEventTime, ColEventTime,
	)
	rows, err := g.db.QueryContext(ctx, query, watermark, limit)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: read-only events since %s: %w", watermark, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			e         Event
			eventType int
			status    string
			errMsg    sql.NullString
			readTime  sql.NullTime
		)
		if err := rows.Scan(&e.RecordID, &e.TableKey, &e.TableName, &eventType, &e.EventTime,
			&status, &e.Attempt, &errMsg, &readTime); err != nil {
			return nil, fmt.Errorf("sourcedb: scan event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Status = Status(status)
		e.ErrorMessage = errMsg.String
		if readTime.Valid {
			e.ReadTime = readTime.Time
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sourcedb: iterate events: %w", err)
	}
	return out, nil
}

func (g *SQLGateway) LoadPerson(ctx context.Context, uniqueID int64) ([]person.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`,
		strings.Join(personColumns, ", "), g.personTable, person.ColUniqueID)
	rows, err := g.db.QueryContext(ctx, query, uniqueID)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: load person %d: %w", uniqueID, err)
	}
	defer rows.Close()
	return scanPersons(rows)
}

func (g *SQLGateway) LoadPersonsByUsername(ctx context.Context, usernames ...string) ([]person.Record, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(usernames)), ", ")
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s IN (%s)`,
		strings.Join(personColumns, ", "), g.personTable, person.ColUsername, placeholders)
	args := make([]any, len(usernames))
	for i, u := range usernames {
		args[i] = u
	}
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: load persons by username: %w", err)
	}
	defer rows.Close()
	return scanPersons(rows)
}

// IterAll streams the whole persons table, chunked by uniqueid ranges of
// chunkSize to bound memory on large tenants.
func (g *SQLGateway) IterAll(ctx context.Context, chunkSize int) iter.Seq2[person.Record, error] {
	return func(yield func(person.Record, error) bool) {
		uids, err := g.allUniqueIDs(ctx)
		if err != nil {
			yield(person.Record{}, err)
			return
		}
		if len(uids) == 0 {
			return
		}
		start := uids[0]
		for i := chunkSize; i < len(uids); i += chunkSize {
			if !g.yieldRange(ctx, start, uids[i], yield) {
				return
			}
			start = uids[i]
		}
		g.yieldRange(ctx, start, 0, yield)
	}
}

func (g *SQLGateway) allUniqueIDs(ctx context.Context) ([]int64, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`, person.ColUniqueID, g.personTable, person.ColUniqueID)
	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: enumerate unique ids: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sourcedb: scan unique id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// yieldRange streams rows with uniqueid in [start, end); end == 0 means
// unbounded (the final, open-ended chunk).
func (g *SQLGateway) yieldRange(ctx context.Context, start, end int64, yield func(person.Record, error) bool) bool {
	var query string
	var args []any
	if end == 0 {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE %s >= ? ORDER BY %s`,
			strings.Join(personColumns, ", "), g.personTable, person.ColUniqueID, person.ColUniqueID)
		args = []any{start}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE %s >= ? AND %s < ? ORDER BY %s`,
			strings.Join(personColumns, ", "), g.personTable, person.ColUniqueID, person.ColUniqueID, person.ColUniqueID)
		args = []any{start, end}
	}
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return yield(person.Record{}, fmt.Errorf("sourcedb: iter range [%d,%d): %w", start, end, err))
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanOnePerson(rows)
		if err != nil {
			return yield(person.Record{}, err)
		}
		if !yield(rec, nil) {
			return false
		}
	}
	if err := rows.Err(); err != nil {
		return yield(person.Record{}, fmt.Errorf("sourcedb: iter range [%d,%d): %w", start, end, err))
	}
	return true
}

func scanPersons(rows *sql.Rows) ([]person.Record, error) {
	var out []person.Record
	for rows.Next() {
		rec, err := scanOnePerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Rows; kept as an interface so scanOnePerson
// works identically whether called row-by-row inside a streaming loop or
// across a fully materialized result set.
type scanner interface {
	Scan(dest ...any) error
}

func scanOnePerson(rows scanner) (person.Record, error) {
	var (
		r                                         person.Record
		emailEmployee, emailStudent, password     sql.NullString
		birthDate                                 sql.NullString
		functions, schoolIDs                      sql.NullString
		personNr, personNrOBF                     sql.NullInt64
		personNrStudent, personNrOBFStudent       sql.NullInt64
		sapPersnr                                 sql.NullString
		identNr                                   sql.NullInt64
		matrikelnummer, bpk                       sql.NullString
		orgEinheiten, benutzergruppe              sql.NullString
		chipEmployee, chipStudent, chipFurther    sql.NullString
		mirfareEmployee, mirfareStudent, mirfareFurther sql.NullString
		accEmployee, accStudent, accFurther       sql.NullString
		employeeActive, studentActive, furtherActive sql.NullString
	)
	if err := rows.Scan(
		&r.UniqueID, &r.Username, &r.Given, &r.Surname,
		&emailEmployee, &emailStudent, &password, &birthDate,
		&functions, &schoolIDs,
		&personNr, &personNrOBF, &personNrStudent, &personNrOBFStudent,
		&sapPersnr, &identNr, &matrikelnummer, &bpk,
		&orgEinheiten, &benutzergruppe,
		&chipEmployee, &chipStudent, &chipFurther,
		&mirfareEmployee, &mirfareStudent, &mirfareFurther,
		&accEmployee, &accStudent, &accFurther,
		&employeeActive, &studentActive, &furtherActive,
	); err != nil {
		return person.Record{}, fmt.Errorf("sourcedb: scan person row: %w", err)
	}

	r.EmailEmployee = nullStrPtr(emailEmployee)
	r.EmailStudent = nullStrPtr(emailStudent)
	r.Password = nullStrPtr(password)
	r.BirthDate = nullStrPtr(birthDate)
	r.Functions = splitMulti(functions)
	r.SchoolIDs = splitMulti(schoolIDs)
	r.PersonNr = nullIntPtr(personNr)
	r.PersonNrOBF = nullIntPtr(personNrOBF)
	r.PersonNrStudent = nullIntPtr(personNrStudent)
	r.PersonNrOBFStudent = nullIntPtr(personNrOBFStudent)
	r.SapPersnr = nullStrPtr(sapPersnr)
	r.IdentNr = nullIntPtr(identNr)
	r.Matrikelnummer = nullStrPtr(matrikelnummer)
	r.BPK = nullStrPtr(bpk)
	r.OrgEinheiten = nullStrPtr(orgEinheiten)
	r.Benutzergruppe = nullStrPtr(benutzergruppe)
	r.ChipIDEmployee = nullStrPtr(chipEmployee)
	r.ChipIDStudent = nullStrPtr(chipStudent)
	r.ChipIDFurther = nullStrPtr(chipFurther)
	r.MirfareIDEmployee = nullStrPtr(mirfareEmployee)
	r.MirfareIDStudent = nullStrPtr(mirfareStudent)
	r.MirfareIDFurther = nullStrPtr(mirfareFurther)
	r.AccStEmployee = nullStrPtr(accEmployee)
	r.AccStStudent = nullStrPtr(accStudent)
	r.AccStFurther = nullStrPtr(accFurther)
	r.EmployeeActive = nullStrPtr(employeeActive)
	r.StudentActive = nullStrPtr(studentActive)
	r.FurtherActive = nullStrPtr(furtherActive)
	return r, nil
}

func nullStrPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullIntPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// splitMulti turns the semicolon-delimited source encoding into []string,
// nil for a null or blank column.
func splitMulti(n sql.NullString) []string {
	if !n.Valid {
		return nil
	}
	trimmed := strings.TrimSpace(n.String)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ";")
}

// WriteBack commits every update inside a single transaction, one commit
// per round. Read-only gateways track the highest event_time seen instead
// of writing.
func (g *SQLGateway) WriteBack(ctx context.Context, updates map[int64]EventUpdate) error {
	if g.readOnly {
		for _, u := range updates {
			if u.EventTime.After(g.watermark) {
				g.watermark = u.EventTime
			}
		}
		return nil
	}
	if len(updates) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sourcedb: begin writeback: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`UPDATE %s SET %s = ?, %s = ?, %s = ?, %s = ? WHERE %s = ?`,
		g.eventTable, ColStatus, ColAttempt, ColErrorMessage, ColReadTime, ColRecordID)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("sourcedb: prepare writeback: %w", err)
	}
	defer stmt.Close()

	for recordID, u := range updates {
		if _, err := stmt.ExecContext(ctx, string(u.Status), u.Attempt, u.ErrorMessage, u.ReadTime, recordID); err != nil {
			return fmt.Errorf("sourcedb: writeback record %d: %w", recordID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sourcedb: commit writeback: %w", err)
	}
	return nil
}

// Watermark returns the highest event_time observed by a read-only
// gateway's WriteBack calls, for the scheduler to persist across rounds.
func (g *SQLGateway) Watermark() time.Time { return g.watermark }
