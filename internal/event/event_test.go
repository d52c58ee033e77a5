package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

type fakeOwner struct {
	name string
	ctx  *fieldtype.Struct
}

func (o *fakeOwner) Name() string                        { return o.name }
func (o *fakeOwner) EventContextType() *fieldtype.Struct { return o.ctx }

func newIntClass(t *testing.T) *Class {
	t.Helper()
	c, err := NewClass("E")
	require.NoError(t, err)
	i32, _ := fieldtype.NewSignedInteger(32)
	require.NoError(t, c.AddField(i32, "n"))
	return c
}

func TestNewClassValidatesName(t *testing.T) {
	_, err := NewClass("")
	assert.ErrorIs(t, err, ctferr.ErrInvalidArgument)
	_, err = NewClass("event")
	assert.ErrorIs(t, err, ctferr.ErrInvalidArgument)
	c, err := NewClass("Simple Event")
	require.NoError(t, err)
	assert.Equal(t, "Simple Event", c.Name())
	_, ok := c.ID()
	assert.False(t, ok)
}

func TestAddFieldAfterRegistrationFails(t *testing.T) {
	c := newIntClass(t)
	i8, _ := fieldtype.NewInteger(8)
	assert.ErrorIs(t, c.AddField(i8, "n"), ctferr.ErrDuplicateField)

	require.NoError(t, c.Bind(&fakeOwner{name: "S"}, 4))
	id, ok := c.ID()
	require.True(t, ok)
	assert.Equal(t, uint64(4), id)
	assert.True(t, c.Registered())

	i16, _ := fieldtype.NewInteger(16)
	assert.ErrorIs(t, c.AddField(i16, "m"), ctferr.ErrFrozenSchema)
	assert.ErrorIs(t, c.SetID(9), ctferr.ErrFrozenSchema)
	assert.ErrorIs(t, c.SetContextType(fieldtype.NewStruct()), ctferr.ErrFrozenSchema)
	assert.True(t, c.PayloadType().Frozen())
}

func TestBindOnce(t *testing.T) {
	c := newIntClass(t)
	require.NoError(t, c.Bind(&fakeOwner{name: "S1"}, 0))
	assert.ErrorIs(t, c.Bind(&fakeOwner{name: "S2"}, 0), ctferr.ErrForeignEventClass)
}

func TestNewEventRequiresRegistration(t *testing.T) {
	c := newIntClass(t)
	_, err := New(c)
	assert.ErrorIs(t, err, ctferr.ErrInvalidArgument)
}

func TestEventsOwnIndependentValues(t *testing.T) {
	c := newIntClass(t)
	require.NoError(t, c.Bind(&fakeOwner{name: "S"}, 0))

	a, err := New(c)
	require.NoError(t, err)
	b, err := New(c)
	require.NoError(t, err)
	require.NoError(t, a.SetPayload("n", 1))
	require.NoError(t, b.SetPayload("n", 2))

	fa, _ := a.PayloadField("n")
	fb, _ := b.PayloadField("n")
	assert.Equal(t, int64(1), fa.Value())
	assert.Equal(t, int64(2), fb.Value())

	assert.ErrorIs(t, a.SetPayload("missing", 1), ctferr.ErrNoSuchField)
	assert.ErrorIs(t, a.SetPayload("n", "x"), ctferr.ErrTypeMismatch)
}

func TestEventSections(t *testing.T) {
	c := newIntClass(t)
	ctx := fieldtype.NewStruct()
	u8, _ := fieldtype.NewInteger(8)
	require.NoError(t, ctx.AddField(u8, "prio"))
	require.NoError(t, c.SetContextType(ctx))

	sctx := fieldtype.NewStruct()
	u32, _ := fieldtype.NewInteger(32)
	require.NoError(t, sctx.AddField(u32, "tid"))
	require.NoError(t, c.Bind(&fakeOwner{name: "S", ctx: sctx}, 0))

	e, err := New(c)
	require.NoError(t, err)
	cv, err := e.Context()
	require.NoError(t, err)
	require.NoError(t, cv.SetField("prio", 3))
	sv, err := e.StreamContext()
	require.NoError(t, err)
	require.NoError(t, sv.SetField("tid", 1234))
	assert.Same(t, sctx, e.StreamContextType())

	plain := newIntClass(t)
	require.NoError(t, plain.Bind(&fakeOwner{name: "S"}, 1))
	p, _ := New(plain)
	_, err = p.Context()
	assert.ErrorIs(t, err, ctferr.ErrNoSuchField)
	_, err = p.StreamContext()
	assert.ErrorIs(t, err, ctferr.ErrNoSuchField)
}

func TestEventFrozenAfterAppend(t *testing.T) {
	c := newIntClass(t)
	require.NoError(t, c.Bind(&fakeOwner{name: "S"}, 0))
	e, _ := New(c)
	require.NoError(t, e.SetClockValue(42))
	v, ok := e.ClockValue()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), v)

	assert.True(t, e.MarkAppended())
	assert.False(t, e.MarkAppended())
	assert.ErrorIs(t, e.SetClockValue(43), ctferr.ErrFrozenSchema)
	assert.ErrorIs(t, e.SetPayload("n", 5), ctferr.ErrFrozenSchema)

	n, err := e.PayloadField("n")
	require.NoError(t, err)
	assert.True(t, n.Frozen())
	assert.ErrorIs(t, n.Set(99), ctferr.ErrFrozenSchema)
	assert.ErrorIs(t, e.Payload().Set(map[string]any{"n": 1}), ctferr.ErrFrozenSchema)
}
