// Package fanout implements the cross-tenant propagation of selected
// attribute changes to the shared tenant. The queue is an explicit field
// on the Reconciler and Tenant Scheduler, never a package global.
package fanout

import "github.com/hkdb/dirsync/internal/person"

// Queue accumulates renames and attribute changes observed while
// reconciling non-shared tenants during one scheduler round, for a single
// end-of-cycle pass into the shared tenant.
type Queue struct {
	renames map[string]string
	changes map[string]person.Record
}

// NewQueue returns an empty fan-out queue.
func NewQueue() *Queue {
	return &Queue{
		renames: make(map[string]string),
		changes: make(map[string]person.Record),
	}
}

// PushRename records that oldCN was renamed to newCN in a non-shared
// tenant. Last write wins if the same oldCN is renamed again within one
// round.
func (q *Queue) PushRename(oldCN, newCN string) {
	q.renames[oldCN] = newCN
}

// PushAttributeChange records that cn's watched attributes changed in a
// non-shared tenant. row carries the full record so the shared-tenant
// comparison in Processor.ProcessEndOfCycle can read given/surname/
// email_student/password directly off it.
func (q *Queue) PushAttributeChange(cn string, row person.Record) {
	q.changes[cn] = row
}

// Drain returns and empties the queue's contents, for the end of a
// scheduler round.
func (q *Queue) Drain() (renames map[string]string, changes map[string]person.Record) {
	renames, q.renames = q.renames, make(map[string]string)
	changes, q.changes = q.changes, make(map[string]person.Record)
	return renames, changes
}
