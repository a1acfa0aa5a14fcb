// Package sourcedb is the Source Gateway: the contract over a tenant's
// per-round SQL cursor, the event-log rows it drains, and the person rows
// it reads back. internal/tenant obtains one Gateway per tenant round and
// does not close it; the underlying *sql.DB outlives the round.
package sourcedb

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PersonsView is the table_name an event must carry to pass validation.
const PersonsView = "persons"

// Event is one row of the append-only event log.
type Event struct {
	RecordID     int64
	TableKey     string
	TableName    string
	EventType    EventType
	EventTime    time.Time
	Status       Status
	Attempt      int
	ErrorMessage string
	ReadTime     time.Time
}

// UniqueID parses the table_key column (must be "uniqueid=<n>") into its
// numeric id. Returns an error for anything else.
func (e Event) UniqueID() (int64, error) {
	if !strings.HasPrefix(e.TableKey, TableKeyPrefix) {
		return 0, fmt.Errorf("sourcedb: invalid table_key %q, expect %s prefix", e.TableKey, TableKeyPrefix)
	}
	digits := strings.TrimPrefix(e.TableKey, TableKeyPrefix)
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sourcedb: invalid table_key %q, expect numeric id: %w", e.TableKey, err)
	}
	return id, nil
}

// Validate checks the three structural preconditions an event must meet
// before it can be classified, independent of what the Reconciler later
// decides to do with it.
func (e Event) Validate() error {
	if !e.EventType.Valid() {
		return fmt.Errorf("sourcedb: invalid event_type %d", e.EventType)
	}
	if e.TableName != PersonsView {
		return fmt.Errorf("sourcedb: invalid table_name %q, expect %q", e.TableName, PersonsView)
	}
	_, err := e.UniqueID()
	return err
}

// EventUpdate is the per-event writeback the Reconciler produces; WriteBack
// applies a batch of these inside one transaction. EventTime carries the
// source event's own event_time, used only by a read-only Gateway to
// advance its watermark to the maximum event_time seen — a writable
// Gateway ignores it.
type EventUpdate struct {
	Status       Status
	Attempt      int
	ErrorMessage string
	ReadTime     time.Time
	EventTime    time.Time
}
