// Package gentime converts instants into the two textual time formats this
// system writes: the directory's "generalized time" attribute value, and
// the source database's trailing-".0" timestamp string.
package gentime

import "time"

// generalizedTimeLayout produces YYYYMMDDHHMMSSZ in UTC.
const generalizedTimeLayout = "20060102150405Z"

// Format returns t as a UTC LDAP generalized time string, used for
// etlTimestamp on every entry the Reconciler writes.
func Format(t time.Time) string {
	return t.UTC().Format(generalizedTimeLayout)
}

// sourceDateLayout matches the source's "YYYY-MM-DD HH:MM:SS" rendering;
// the mandatory trailing ".0" is appended separately since Go's time
// layout has no notion of a literal fractional-seconds placeholder that
// is always exactly ".0".
const sourceDateLayout = "2006-01-02 15:04:05"

// FormatSourceDate renders a birth-date-style timestamp the way the
// source table stores it, trailing ".0" and all — wire-compatible with
// rows already written by the trigger that produced the original data.
func FormatSourceDate(t time.Time) string {
	return t.Format(sourceDateLayout) + ".0"
}
