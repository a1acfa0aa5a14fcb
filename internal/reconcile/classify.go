package reconcile

import "github.com/hkdb/dirsync/internal/sourcedb"

type action int

const (
	actionUpsertSingle action = iota
	actionUpsertEachWarn
	actionDeleteInDirectory
)

// classify maps (event_type, row_count) to an action and its status-if-ok.
// Any event with more than one matching source row is handled uniformly
// regardless of event_type: upsert each, with a warning.
func classify(eventType sourcedb.EventType, rowCount int) (action, sourcedb.Status) {
	if rowCount > 1 {
		return actionUpsertEachWarn, sourcedb.StatusWarning
	}
	switch eventType {
	case sourcedb.EventInsert:
		if rowCount == 1 {
			return actionUpsertSingle, sourcedb.StatusSuccess
		}
		return actionDeleteInDirectory, sourcedb.StatusSuccess
	case sourcedb.EventUpdate:
		if rowCount == 1 {
			return actionUpsertSingle, sourcedb.StatusSuccess
		}
		return actionDeleteInDirectory, sourcedb.StatusWarning
	case sourcedb.EventDelete:
		if rowCount == 0 {
			return actionDeleteInDirectory, sourcedb.StatusSuccess
		}
		return actionUpsertEachWarn, sourcedb.StatusWarning
	}
	// Unreachable: ProcessEvent rejects invalid event types in Validate.
	return actionDeleteInDirectory, sourcedb.StatusSuccess
}
