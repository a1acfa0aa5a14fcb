package person

import (
	"strconv"
	"strings"

	"github.com/hkdb/dirsync/internal/directoryval"
)

// CoerceNumericID renders a required int64 id column as a decimal string
// with no fractional part.
func CoerceNumericID(id *int64) directoryval.Value {
	if id == nil || *id == 0 {
		return directoryval.Nil
	}
	return directoryval.String(strconv.FormatInt(*id, 10))
}

// CoerceNumericIDPtr is CoerceNumericID for the optional scalar id columns
// (person_nr, ident_nr, ...) where a nil pointer means a null source
// value, distinct from the required identity column's zero-is-invalid
// rule.
func CoerceNumericIDPtr(id *int64) directoryval.Value {
	if id == nil {
		return directoryval.Nil
	}
	return directoryval.String(strconv.FormatInt(*id, 10))
}

// CoerceRightTrim right-trims whitespace; if the result is empty the
// coercion yields Absent rather than an empty-string attribute value.
func CoerceRightTrim(s *string) directoryval.Value {
	if s == nil {
		return directoryval.Nil
	}
	trimmed := strings.TrimRight(*s, " \t\r\n")
	if trimmed == "" {
		return directoryval.Nil
	}
	return directoryval.String(trimmed)
}

// CoerceTrim fully trims whitespace on both ends; empty after trimming
// yields Absent. Used for the identity column (username → cn).
func CoerceTrim(s *string) directoryval.Value {
	if s == nil {
		return directoryval.Nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return directoryval.Nil
	}
	return directoryval.String(trimmed)
}

// CoerceMultiValue splits a semicolon-delimited column into a multi-valued
// directory attribute. A null, empty, or whitespace-only source value
// yields Absent.
func CoerceMultiValue(fields []string) directoryval.Value {
	if len(fields) == 0 {
		return directoryval.Nil
	}
	trimmed := strings.TrimSpace(strings.Join(fields, ";"))
	if trimmed == "" {
		return directoryval.Nil
	}
	parts := strings.Split(trimmed, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p)
	}
	return directoryval.List(out)
}

// CoercePassthroughString passes a string column through unchanged; nil
// stays Absent. Used for columns that need no conversion (org units,
// status flags, chip/mirfare ids, ...).
func CoercePassthroughString(s *string) directoryval.Value {
	if s == nil {
		return directoryval.Nil
	}
	return directoryval.String(*s)
}

// CoerceTimestamp renders a source timestamp-as-string attribute with the
// mandatory trailing ".0" (intentional, for wire compatibility with
// existing directory values of this shape) appended if not already
// present. A null source value passes through.
func CoerceTimestamp(s *string) directoryval.Value {
	if s == nil {
		return directoryval.Nil
	}
	v := *s
	if v == "" {
		return directoryval.Nil
	}
	if !strings.HasSuffix(v, ".0") {
		v += ".0"
	}
	return directoryval.String(v)
}
