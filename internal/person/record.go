// Package person models the source person row, the static column↔attribute
// field map, and the per-column coercion rules. It is the only package
// allowed to know what a directory attribute name means — internal/directory
// stays attribute-agnostic.
package person

import "github.com/hkdb/dirsync/internal/directoryval"

// Record is an immutable snapshot of a source row at event-processing
// time. UniqueID and Username are the identity columns; both must be
// non-empty for the row to be processable.
type Record struct {
	UniqueID  int64
	Username  string
	Given     string
	Surname   string

	EmailEmployee *string
	EmailStudent  *string
	Password      *string // cleartext; never persisted as-is
	BirthDate     *string // "YYYY-MM-DD HH:MM:SS" source wire format, nil if unset

	Functions []string
	SchoolIDs []string

	PersonNr           *int64
	PersonNrOBF        *int64
	PersonNrStudent    *int64
	PersonNrOBFStudent *int64
	SapPersnr          *string
	IdentNr            *int64
	Matrikelnummer     *string
	BPK                *string
	OrgEinheiten       *string
	Benutzergruppe     *string

	ChipIDEmployee *string
	ChipIDStudent  *string
	ChipIDFurther  *string

	MirfareIDEmployee *string
	MirfareIDStudent  *string
	MirfareIDFurther  *string

	AccStEmployee *string
	AccStStudent  *string
	AccStFurther  *string

	EmployeeActive *string
	StudentActive  *string
	FurtherActive  *string
}

// HasValidIdentity reports whether both UniqueID and Username are
// non-empty, the precondition for the record to be processable.
func (r Record) HasValidIdentity() bool {
	return r.UniqueID != 0 && r.Username != ""
}

// Attributes coerces every mapped field of r into directory attribute
// values, keyed by directory attribute name. It does not include
// uniqueId or cn's identity role beyond the normal field-map entries —
// callers that need the RDN or the secondary identifying attribute read
// r.Username / r.UniqueID directly.
func (r Record) Attributes(enc PasswordEncoder) (map[string]directoryval.Value, error) {
	out := make(map[string]directoryval.Value, len(ColumnToAttribute))

	set := func(col string, v directoryval.Value) { out[ColumnToAttribute[col]] = v }

	set(ColUniqueID, CoerceNumericID(&r.UniqueID))
	set(ColUsername, CoerceTrim(ptr(r.Username)))
	set(ColGiven, CoerceRightTrim(ptr(r.Given)))
	set(ColSurname, CoerceRightTrim(ptr(r.Surname)))
	set(ColEmailEmployee, CoerceRightTrim(r.EmailEmployee))
	set(ColEmailStudent, CoerceRightTrim(r.EmailStudent))
	set(ColBirthDate, CoerceTimestamp(r.BirthDate))
	set(ColFunctions, CoerceMultiValue(r.Functions))
	set(ColSchoolIDs, CoerceMultiValue(r.SchoolIDs))
	set(ColPersonNr, CoerceNumericIDPtr(r.PersonNr))
	set(ColPersonNrOBF, CoerceNumericIDPtr(r.PersonNrOBF))
	set(ColPersonNrStudent, CoerceNumericIDPtr(r.PersonNrStudent))
	set(ColPersonNrOBFStudent, CoerceNumericIDPtr(r.PersonNrOBFStudent))
	set(ColSapPersnr, CoerceRightTrim(r.SapPersnr))
	set(ColIdentNr, CoerceNumericIDPtr(r.IdentNr))
	set(ColMatrikelnummer, CoercePassthroughString(r.Matrikelnummer))
	set(ColBPK, CoercePassthroughString(r.BPK))
	set(ColOrgEinheiten, CoercePassthroughString(r.OrgEinheiten))
	set(ColBenutzergruppe, CoercePassthroughString(r.Benutzergruppe))
	set(ColChipIDEmployee, CoercePassthroughString(r.ChipIDEmployee))
	set(ColChipIDStudent, CoercePassthroughString(r.ChipIDStudent))
	set(ColChipIDFurther, CoercePassthroughString(r.ChipIDFurther))
	set(ColMirfareIDEmployee, CoercePassthroughString(r.MirfareIDEmployee))
	set(ColMirfareIDStudent, CoercePassthroughString(r.MirfareIDStudent))
	set(ColMirfareIDFurther, CoercePassthroughString(r.MirfareIDFurther))
	set(ColAccStEmployee, CoercePassthroughString(r.AccStEmployee))
	set(ColAccStStudent, CoercePassthroughString(r.AccStStudent))
	set(ColAccStFurther, CoercePassthroughString(r.AccStFurther))
	set(ColEmployeeActive, CoercePassthroughString(r.EmployeeActive))
	set(ColStudentActive, CoercePassthroughString(r.StudentActive))
	set(ColFurtherActive, CoercePassthroughString(r.FurtherActive))

	if r.Password != nil && *r.Password != "" {
		enc2, err := enc.EncodePassword(*r.Password)
		if err != nil {
			return nil, err
		}
		set(ColPassword, directoryval.String(enc2))
	} else {
		set(ColPassword, directoryval.Nil)
	}

	return out, nil
}

func ptr(s string) *string { return &s }

// PasswordEncoder produces the directory-ready ciphertext for a cleartext
// password. Implemented by internal/reconcile using internal/cipher, kept
// as an interface here so internal/person never imports crypto directly.
type PasswordEncoder interface {
	EncodePassword(cleartext string) (string, error)
}
