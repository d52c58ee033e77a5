package fieldtype

import "github.com/loykin/ctfwriter/internal/ctferr"

// String is a NUL-terminated byte string, always byte aligned.
type String struct {
	base
	encoding Encoding
}

func NewString() *String {
	t := &String{encoding: EncodingUTF8}
	t.align = 8
	return t
}

func (t *String) ID() ID             { return IDString }
func (t *String) Alignment() uint    { return t.align }
func (t *String) Freeze()            { t.frozen.Store(true) }
func (t *String) Encoding() Encoding { return t.encoding }

func (t *String) SetEncoding(e Encoding) error {
	if err := t.checkMutable("string set encoding"); err != nil {
		return err
	}
	if e < EncodingNone || e > EncodingASCII {
		return ctferr.New(ctferr.KindInvalidArgument, "string set encoding", "unknown encoding %d", e)
	}
	t.encoding = e
	return nil
}

// SetAlignment only accepts 8; strings cannot be bit-packed.
func (t *String) SetAlignment(a uint) error {
	if a != 8 {
		return ctferr.New(ctferr.KindInvalidArgument, "string set alignment", "strings are byte aligned")
	}
	return t.setAlignment("string set alignment", a)
}
