package fieldtype

import (
	"fmt"
	"strconv"
	"strings"
)

// Declaration renders t as a metadata (TSDL) type declaration followed by
// name, as it appears inside a struct body. indent is the nesting depth of
// the line the declaration starts on.
func Declaration(t Type, name string, indent int) string {
	var b strings.Builder
	writeDecl(&b, t, name, indent)
	return b.String()
}

func writeDecl(b *strings.Builder, t Type, name string, indent int) {
	var dims []int
	for {
		a, ok := t.(*Array)
		if !ok {
			break
		}
		dims = append(dims, a.Length())
		t = a.Element()
	}
	writeType(b, t, indent)
	if name != "" {
		b.WriteByte(' ')
		b.WriteString(name)
	}
	for _, d := range dims {
		fmt.Fprintf(b, "[%d]", d)
	}
}

func writeType(b *strings.Builder, t Type, indent int) {
	switch v := t.(type) {
	case *Integer:
		fmt.Fprintf(b, "integer { size = %d; align = %d; signed = %t; encoding = %s; base = %s; byte_order = %s; ",
			v.Size(), v.Alignment(), v.Signed(), v.Encoding(), v.Base(), v.ByteOrder())
		if v.MappedClock() != "" {
			fmt.Fprintf(b, "map = clock.%s.value; ", v.MappedClock())
		}
		b.WriteByte('}')
	case *Float:
		fmt.Fprintf(b, "floating_point { exp_dig = %d; mant_dig = %d; byte_order = %s; align = %d; }",
			v.ExponentDigits(), v.MantissaDigits(), v.ByteOrder(), v.Alignment())
	case *String:
		fmt.Fprintf(b, "string { encoding = %s; }", v.Encoding())
	case *Enum:
		b.WriteString("enum : ")
		writeType(b, v.Container(), indent)
		b.WriteString(" { ")
		for i, m := range v.mappings {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Quote(m.Name))
			b.WriteString(" = ")
			if m.Signed {
				b.WriteString(formatRange(strconv.FormatInt(m.Start, 10), strconv.FormatInt(m.End, 10)))
			} else {
				b.WriteString(formatRange(strconv.FormatUint(m.UStart, 10), strconv.FormatUint(m.UEnd, 10)))
			}
		}
		b.WriteString(" }")
	case *Struct:
		b.WriteString("struct {\n")
		for _, f := range v.fields {
			b.WriteString(strings.Repeat("\t", indent+1))
			writeDecl(b, f.Type, f.Name, indent+1)
			b.WriteString(";\n")
		}
		b.WriteString(strings.Repeat("\t", indent))
		fmt.Fprintf(b, "} align(%d)", v.Alignment())
	case *Array:
		writeDecl(b, v, "", indent)
	}
}

func formatRange(lo, hi string) string {
	if lo == hi {
		return lo
	}
	return lo + " ... " + hi
}
