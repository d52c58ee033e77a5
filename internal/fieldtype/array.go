package fieldtype

import "github.com/loykin/ctfwriter/internal/ctferr"

// Array is a fixed-length sequence of one element type. Its alignment is the
// element's alignment; a zero-length array encodes no bits.
type Array struct {
	base
	elem   Type
	length uint
}

func NewArray(elem Type, length int) (*Array, error) {
	if elem == nil {
		return nil, ctferr.New(ctferr.KindInvalidArgument, "new array", "nil element type")
	}
	if length < 0 {
		return nil, ctferr.New(ctferr.KindInvalidArgument, "new array", "negative length %d", length)
	}
	elem.Freeze()
	return &Array{elem: elem, length: uint(length)}, nil
}

func (t *Array) ID() ID          { return IDArray }
func (t *Array) Alignment() uint { return t.elem.Alignment() }
func (t *Array) Element() Type   { return t.elem }
func (t *Array) Length() int     { return int(t.length) }
func (t *Array) Freeze()         { t.frozen.Store(true); t.elem.Freeze() }
