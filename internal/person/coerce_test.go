package person

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func i64p(i int64) *int64   { return &i }

func TestCoerceNumericID(t *testing.T) {
	require.True(t, CoerceNumericID(nil).IsAbsent())
	var zero int64
	require.True(t, CoerceNumericID(&zero).IsAbsent())
	v := CoerceNumericID(i64p(4711))
	require.Equal(t, "4711", v.Scalar)
}

func TestCoerceNumericIDPtrAllowsZero(t *testing.T) {
	v := CoerceNumericIDPtr(i64p(0))
	require.Equal(t, "0", v.Scalar)
	require.True(t, CoerceNumericIDPtr(nil).IsAbsent())
}

func TestCoerceRightTrim(t *testing.T) {
	require.True(t, CoerceRightTrim(nil).IsAbsent())
	require.True(t, CoerceRightTrim(strp("   ")).IsAbsent())
	v := CoerceRightTrim(strp("Jane  "))
	require.Equal(t, "Jane", v.Scalar)
	// Leading whitespace is preserved — only rstrip.
	v = CoerceRightTrim(strp("  Jane  "))
	require.Equal(t, "  Jane", v.Scalar)
}

func TestCoerceTrim(t *testing.T) {
	v := CoerceTrim(strp("  jdoe  "))
	require.Equal(t, "jdoe", v.Scalar)
	require.True(t, CoerceTrim(strp("   ")).IsAbsent())
}

func TestCoerceTimestamp(t *testing.T) {
	require.True(t, CoerceTimestamp(nil).IsAbsent())
	require.True(t, CoerceTimestamp(strp("")).IsAbsent())
	v := CoerceTimestamp(strp("1990-05-12 00:00:00"))
	require.Equal(t, "1990-05-12 00:00:00.0", v.Scalar)
	// Already-suffixed values are left alone, not double-appended.
	v = CoerceTimestamp(strp("1990-05-12 00:00:00.0"))
	require.Equal(t, "1990-05-12 00:00:00.0", v.Scalar)
}

func TestCoerceMultiValue(t *testing.T) {
	require.True(t, CoerceMultiValue(nil).IsAbsent())
	require.True(t, CoerceMultiValue([]string{"  "}).IsAbsent())
	v := CoerceMultiValue([]string{"a", "b", "c"})
	require.Equal(t, []string{"a", "b", "c"}, v.Multi)
}

func TestRecordAttributesPassword(t *testing.T) {
	r := Record{UniqueID: 4711, Username: "jdoe", Password: strp("hunter2")}
	attrs, err := r.Attributes(fakeEncoder{})
	require.NoError(t, err)
	require.Equal(t, "ENC(hunter2)", attrs[AttrPassword].Scalar)
}

func TestRecordAttributesNoPassword(t *testing.T) {
	r := Record{UniqueID: 4711, Username: "jdoe"}
	attrs, err := r.Attributes(fakeEncoder{})
	require.NoError(t, err)
	require.True(t, attrs[AttrPassword].IsAbsent())
}

type fakeEncoder struct{}

func (fakeEncoder) EncodePassword(cleartext string) (string, error) {
	return "ENC(" + cleartext + ")", nil
}
