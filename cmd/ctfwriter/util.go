package main

import (
	"encoding/json"
	"fmt"

	"github.com/loykin/ctfwriter"
)

func (c command) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}

// fillEvent sets every field of the event's sections to a value derived
// from i, so repeated runs write identical traces.
func fillEvent(e *ctfwriter.Event, i int) error {
	if sc, err := e.StreamContext(); err == nil {
		if err := fill(sc, i); err != nil {
			return err
		}
	}
	if cx, err := e.Context(); err == nil {
		if err := fill(cx, i); err != nil {
			return err
		}
	}
	return fill(e.Payload(), i)
}

func fill(f ctfwriter.Field, i int) error {
	switch v := f.(type) {
	case *ctfwriter.IntegerField:
		t := v.IntegerType()
		if t.Signed() {
			return v.SetInt(int64(uint64(i) % (uint64(t.MaxInt()) + 1)))
		}
		if m := t.MaxUint(); m != ^uint64(0) {
			return v.SetUint(uint64(i) % (m + 1))
		}
		return v.SetUint(uint64(i))
	case *ctfwriter.FloatField:
		return v.SetFloat(float64(i) / 2)
	case *ctfwriter.StringField:
		return v.SetString(fmt.Sprintf("event %d", i))
	case *ctfwriter.EnumField:
		maps := v.EnumType().Mappings()
		if len(maps) == 0 {
			return fill(v.Container(), i)
		}
		return v.Set(maps[i%len(maps)].Name)
	case *ctfwriter.ArrayField:
		for j := 0; j < v.Len(); j++ {
			el, err := v.At(j)
			if err != nil {
				return err
			}
			if err := fill(el, i+j); err != nil {
				return err
			}
		}
		return nil
	case *ctfwriter.StructField:
		for j := 0; j < v.Len(); j++ {
			m, err := v.FieldAt(j)
			if err != nil {
				return err
			}
			if err := fill(m, i); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported field %T", f)
}
