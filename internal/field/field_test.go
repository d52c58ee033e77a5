package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

func TestIntegerBounds(t *testing.T) {
	s16, _ := fieldtype.NewSignedInteger(16)
	f := New(s16).(*Integer)
	require.NoError(t, f.SetInt(-32768))
	assert.Equal(t, int64(-32768), f.Value())
	assert.ErrorIs(t, f.SetInt(32768), ctferr.ErrOutOfRange)
	assert.Equal(t, int64(-32768), f.Int(), "failed set leaves value untouched")

	u12, _ := fieldtype.NewInteger(12)
	g := New(u12).(*Integer)
	require.NoError(t, g.Set(uint16(4095)))
	assert.ErrorIs(t, g.SetUint(4096), ctferr.ErrOutOfRange)
	assert.ErrorIs(t, g.Set(-1), ctferr.ErrOutOfRange)
	assert.ErrorIs(t, g.Set("7"), ctferr.ErrTypeMismatch)
	assert.ErrorIs(t, g.Set(1.5), ctferr.ErrTypeMismatch)
	assert.Equal(t, uint64(4095), g.Value())

	assert.True(t, u12.Frozen(), "instantiation freezes the type")
}

func TestFloatAndString(t *testing.T) {
	f := New(fieldtype.NewDouble()).(*Float)
	require.NoError(t, f.Set(3.25))
	assert.Equal(t, 3.25, f.Float())
	require.NoError(t, f.Set(2))
	assert.Equal(t, 2.0, f.Value())
	assert.ErrorIs(t, f.Set("x"), ctferr.ErrTypeMismatch)

	s := New(fieldtype.NewString()).(*String)
	require.NoError(t, s.Set("hello"))
	assert.Equal(t, "hello", s.String())
	assert.ErrorIs(t, s.SetString("a\x00b"), ctferr.ErrInvalidArgument)
	assert.ErrorIs(t, s.SetString("\xff"), ctferr.ErrInvalidArgument)
	assert.ErrorIs(t, s.Set(42), ctferr.ErrTypeMismatch)

	ascii := fieldtype.NewString()
	require.NoError(t, ascii.SetEncoding(fieldtype.EncodingASCII))
	a := New(ascii).(*String)
	assert.ErrorIs(t, a.SetString("héllo"), ctferr.ErrInvalidArgument)
	require.NoError(t, a.SetString("plain"))
}

func TestEnumField(t *testing.T) {
	c, _ := fieldtype.NewInteger(10)
	et, _ := fieldtype.NewEnum(c)
	require.NoError(t, et.AddMapping("FIRST", 0, 4))
	require.NoError(t, et.AddMapping("SECOND", 5, 5))

	e := New(et).(*Enum)
	require.NoError(t, e.Set("SECOND"))
	assert.Equal(t, uint64(5), e.Value())
	assert.Equal(t, []string{"SECOND"}, e.Labels())

	require.NoError(t, e.SetUint(900))
	assert.Empty(t, e.Labels(), "unmapped values are accepted")
	assert.ErrorIs(t, e.SetUint(1024), ctferr.ErrOutOfRange)
	assert.ErrorIs(t, e.Set("MISSING"), ctferr.ErrNoSuchField)
}

func TestArrayField(t *testing.T) {
	i10, _ := fieldtype.NewInteger(10)
	at, _ := fieldtype.NewArray(i10, 5)
	a := New(at).(*Array)
	assert.Equal(t, 5, a.Len())

	require.NoError(t, a.Set([]int{0, 1, 2, 3, 4}))
	assert.Equal(t, []any{uint64(0), uint64(1), uint64(2), uint64(3), uint64(4)}, a.Value())

	_, err := a.At(5)
	assert.ErrorIs(t, err, ctferr.ErrIndexOutOfBounds)
	_, err = a.At(-1)
	assert.ErrorIs(t, err, ctferr.ErrIndexOutOfBounds)
	assert.ErrorIs(t, a.Set([]int{1, 2}), ctferr.ErrIndexOutOfBounds)
	assert.ErrorIs(t, a.Set(3), ctferr.ErrTypeMismatch)
	assert.ErrorIs(t, a.Set([5]int{0, 0, 0, 0, 2000}), ctferr.ErrOutOfRange)

	el, err := a.At(4)
	require.NoError(t, err)
	require.NoError(t, el.Set(1023))
}

func TestStructField(t *testing.T) {
	st := fieldtype.NewStruct()
	i32, _ := fieldtype.NewSignedInteger(32)
	require.NoError(t, st.AddField(i32, "a"))
	i10, _ := fieldtype.NewInteger(10)
	at, _ := fieldtype.NewArray(i10, 5)
	require.NoError(t, st.AddField(at, "b"))

	s := New(st).(*Struct)
	require.NoError(t, s.Set(map[string]any{"a": 7, "b": []int{0, 1, 2, 3, 4}}))
	assert.Equal(t, map[string]any{
		"a": int64(7),
		"b": []any{uint64(0), uint64(1), uint64(2), uint64(3), uint64(4)},
	}, s.Value())

	_, err := s.Field("c")
	assert.ErrorIs(t, err, ctferr.ErrNoSuchField)
	_, err = s.FieldAt(2)
	assert.ErrorIs(t, err, ctferr.ErrIndexOutOfBounds)
	assert.ErrorIs(t, s.SetField("a", "seven"), ctferr.ErrTypeMismatch)
	assert.ErrorIs(t, s.Set(map[string]any{"zz": 1}), ctferr.ErrNoSuchField)

	assert.ErrorIs(t, st.AddField(fieldtype.NewString(), "late"), ctferr.ErrFrozenSchema)
}

func TestInstancesAreIndependent(t *testing.T) {
	st := fieldtype.NewStruct()
	i8, _ := fieldtype.NewInteger(8)
	require.NoError(t, st.AddField(i8, "n"))

	a := New(st).(*Struct)
	b := New(st).(*Struct)
	require.NoError(t, a.SetField("n", 1))
	require.NoError(t, b.SetField("n", 2))
	assert.Equal(t, map[string]any{"n": uint64(1)}, a.Value())
	assert.Equal(t, map[string]any{"n": uint64(2)}, b.Value())
}

func TestFailedCompositeSetLeavesValueUntouched(t *testing.T) {
	i10, _ := fieldtype.NewInteger(10)
	at, _ := fieldtype.NewArray(i10, 3)
	a := New(at).(*Array)
	require.NoError(t, a.Set([]int{1, 2, 3}))
	assert.ErrorIs(t, a.Set([]int{7, 8, 5000}), ctferr.ErrOutOfRange)
	assert.Equal(t, []any{uint64(1), uint64(2), uint64(3)}, a.Value())

	st := fieldtype.NewStruct()
	i8, _ := fieldtype.NewInteger(8)
	require.NoError(t, st.AddField(i8, "a"))
	require.NoError(t, st.AddField(at, "b"))
	require.NoError(t, st.AddField(fieldtype.NewString(), "c"))
	s := New(st).(*Struct)
	require.NoError(t, s.Set(map[string]any{"a": 1, "b": []int{1, 1, 1}, "c": "x"}))

	// members are applied in name order, so "a" and "b" would land before "c" fails
	err := s.Set(map[string]any{"a": 9, "b": []int{9, 9, 9}, "c": 9})
	assert.ErrorIs(t, err, ctferr.ErrTypeMismatch)
	assert.Equal(t, map[string]any{
		"a": uint64(1),
		"b": []any{uint64(1), uint64(1), uint64(1)},
		"c": "x",
	}, s.Value())

	b, err := s.Field("b")
	require.NoError(t, err)
	require.NoError(t, s.Set(map[string]any{"b": []int{4, 5, 6}}))
	assert.Equal(t, []any{uint64(4), uint64(5), uint64(6)}, b.Value(), "children keep their identity")
}

func TestFreezeIsRecursive(t *testing.T) {
	st := fieldtype.NewStruct()
	c, _ := fieldtype.NewInteger(8)
	et, _ := fieldtype.NewEnum(c)
	require.NoError(t, et.AddMapping("ON", 1, 1))
	require.NoError(t, st.AddField(et, "state"))
	at, _ := fieldtype.NewArray(fieldtype.NewDouble(), 2)
	require.NoError(t, st.AddField(at, "w"))
	require.NoError(t, st.AddField(fieldtype.NewString(), "s"))

	s := New(st).(*Struct)
	require.NoError(t, s.SetField("state", "ON"))
	s.Freeze()
	assert.True(t, s.Frozen())

	assert.ErrorIs(t, s.Set(map[string]any{"s": "x"}), ctferr.ErrFrozenSchema)
	assert.ErrorIs(t, s.SetField("s", "x"), ctferr.ErrFrozenSchema)
	state, _ := s.Field("state")
	assert.ErrorIs(t, state.Set(0), ctferr.ErrFrozenSchema)
	assert.ErrorIs(t, state.(*Enum).SetUint(0), ctferr.ErrFrozenSchema)
	assert.ErrorIs(t, state.(*Enum).Container().SetInt(0), ctferr.ErrFrozenSchema)
	w, _ := s.Field("w")
	assert.ErrorIs(t, w.Set([]float64{1, 2}), ctferr.ErrFrozenSchema)
	el, _ := w.(*Array).At(0)
	assert.ErrorIs(t, el.(*Float).SetFloat(1), ctferr.ErrFrozenSchema)
	assert.Equal(t, uint64(1), state.Value())
}
