// Package directoryval defines the tri-state attribute value the
// Reconciler and Directory Gateway exchange: a directory attribute is
// either absent, a single scalar string, or a multi-valued list of
// strings. Coercers in internal/person produce these; nothing downstream
// needs to special-case "nil means delete" versus "nil means never set"
// because the zero Value already is Absent.
package directoryval

// Kind distinguishes the three states a directory attribute can be in.
type Kind int

const (
	// Absent means the attribute should not exist on the entry (a null
	// source value coerces to this).
	Absent Kind = iota
	// Scalar means the attribute has exactly one string value.
	Scalar
	// Multi means the attribute has a list of string values.
	Multi
)

// Value is a coerced directory attribute value in one of three states.
type Value struct {
	Kind   Kind
	Scalar string
	Multi  []string
}

// Nil is the absent value, returned by coercers when the source column is
// null or trims to empty.
var Nil = Value{Kind: Absent}

// String builds a scalar Value.
func String(s string) Value { return Value{Kind: Scalar, Scalar: s} }

// List builds a multi-valued Value. An empty or nil slice is normalized to
// Absent so "no values" and "attribute not set" are the same state.
func List(ss []string) Value {
	if len(ss) == 0 {
		return Nil
	}
	return Value{Kind: Multi, Multi: ss}
}

// IsAbsent reports whether v represents "no attribute value".
func (v Value) IsAbsent() bool { return v.Kind == Absent }

// Strings returns v's values as a slice regardless of Kind — empty for
// Absent, one element for Scalar, the full list for Multi. This is the
// shape go-ldap's Attribute.Values expects.
func (v Value) Strings() []string {
	switch v.Kind {
	case Scalar:
		return []string{v.Scalar}
	case Multi:
		return v.Multi
	default:
		return nil
	}
}

// Equal reports whether two Values carry the same logical content,
// treating a single-element Multi as equal to the corresponding Scalar —
// directory servers frequently hand back a one-element list for an
// attribute that was written as a scalar.
func (v Value) Equal(other Value) bool {
	a, b := v.Strings(), other.Strings()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FromStrings builds a Value from a raw directory attribute's values,
// collapsing a single-element list to Scalar and an empty list to Absent.
func FromStrings(ss []string) Value {
	switch len(ss) {
	case 0:
		return Nil
	case 1:
		return String(ss[0])
	default:
		return Value{Kind: Multi, Multi: ss}
	}
}
