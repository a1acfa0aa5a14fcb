package localdb

// migration is one forward-only schema change, applied in Version order.
type migration struct {
	Version int
	SQL     string
}

// migrations creates the bundled fixture tenant's schema: a persons view
// and its event log, column-for-column with the wire-sensitive names the
// rest of the daemon expects. Production tenants point at their own
// pre-existing schema over any database/sql driver; this schema exists
// only for the fixture/test tenant and for local development against a
// real SQLite-backed source.
var migrations = []migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE persons (
				uniqueid              INTEGER PRIMARY KEY,
				username              TEXT NOT NULL,
				given                 TEXT NOT NULL,
				surname               TEXT NOT NULL,
				email_employee        TEXT,
				email_student         TEXT,
				password              TEXT,
				birth_date            TEXT,
				functions             TEXT,
				school_ids            TEXT,
				person_nr             INTEGER,
				person_nr_obf         INTEGER,
				person_nr_student     INTEGER,
				person_nr_obf_student INTEGER,
				sap_persnr            TEXT,
				ident_nr              INTEGER,
				matrikelnummer        TEXT,
				bpk                   TEXT,
				org_einheiten         TEXT,
				benutzergruppe        TEXT,
				chip_id_employee      TEXT,
				chip_id_student       TEXT,
				chip_id_further       TEXT,
				mirfare_id_employee   TEXT,
				mirfare_id_student    TEXT,
				mirfare_id_further    TEXT,
				acc_st_employee       TEXT,
				acc_st_student        TEXT,
				acc_st_further        TEXT,
				employee_active       TEXT,
				student_active        TEXT,
				further_active        TEXT
			);

			CREATE TABLE event_log (
				record_id          INTEGER PRIMARY KEY AUTOINCREMENT,
				table_key          TEXT NOT NULL,
				status             TEXT NOT NULL DEFAULT 'N',
				event_type         INTEGER NOT NULL,
				event_time         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				perpetrator        TEXT,
				table_name         TEXT NOT NULL DEFAULT 'persons',
				column_name        TEXT,
				old_value          TEXT,
				new_value          TEXT,
				synch_id           TEXT,
				synch_online_flag  INTEGER,
				transaction_flag   INTEGER,
				read_time          DATETIME,
				error_message      TEXT,
				attempt            REAL NOT NULL DEFAULT 0,
				admin_notify_flag  INTEGER
			);

			CREATE INDEX idx_event_log_status ON event_log(status);
			CREATE INDEX idx_event_log_event_time ON event_log(event_time);

			-- Trigger-equivalent seam: a production database trigger
			-- appends one event_log row per insert/update/delete on
			-- persons. The fixture tenant expects its test harness or CLI
			-- to insert event_log rows directly; this daemon never writes
			-- to persons itself, only reacts to events someone else
			-- produced.
		`,
	},
}
