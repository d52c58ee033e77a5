package main

import (
	"fmt"

	"github.com/loykin/ctfwriter"
)

var demoStates = []string{"IDLE", "RUNNING", "STOPPED"}

// Demo writes a single stream trace whose events exercise every field
// type.
func (c command) Demo(f DemoFlags) error {
	if f.Events < 0 {
		return fmt.Errorf("events must not be negative")
	}
	w, err := ctfwriter.New(f.OutDir, ctfwriter.Options{Fs: c.fs})
	if err != nil {
		return err
	}
	n, err := writeDemo(w, f.Events)
	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "wrote %d events to %s\n", n, w.Path())
	return nil
}

func demoEventClass() (*ctfwriter.EventClass, error) {
	ec, err := ctfwriter.NewEventClass("sample")
	if err != nil {
		return nil, err
	}

	point := ctfwriter.NewStruct()
	x, err := ctfwriter.NewSignedInteger(32)
	if err != nil {
		return nil, err
	}
	y, err := ctfwriter.NewSignedInteger(32)
	if err != nil {
		return nil, err
	}
	if err := point.AddField(x, "x"); err != nil {
		return nil, err
	}
	if err := point.AddField(y, "y"); err != nil {
		return nil, err
	}

	u8, err := ctfwriter.NewInteger(8)
	if err != nil {
		return nil, err
	}
	state, err := ctfwriter.NewEnum(u8)
	if err != nil {
		return nil, err
	}
	if err := state.AddMappingUnsigned(demoStates[0], 0, 0); err != nil {
		return nil, err
	}
	if err := state.AddMappingUnsigned(demoStates[1], 1, 1); err != nil {
		return nil, err
	}
	if err := state.AddMappingUnsigned(demoStates[2], 2, 255); err != nil {
		return nil, err
	}

	u16, err := ctfwriter.NewInteger(16)
	if err != nil {
		return nil, err
	}
	if err := u16.SetBase(ctfwriter.BaseHexadecimal); err != nil {
		return nil, err
	}
	samples, err := ctfwriter.NewArray(u16, 4)
	if err != nil {
		return nil, err
	}

	members := []struct {
		t    ctfwriter.FieldType
		name string
	}{
		{point, "point"},
		{ctfwriter.NewString(), "label"},
		{ctfwriter.NewDouble(), "ratio"},
		{state, "state"},
		{samples, "samples"},
	}
	for _, m := range members {
		if err := ec.AddField(m.t, m.name); err != nil {
			return nil, err
		}
	}
	return ec, nil
}

func writeDemo(w *ctfwriter.Writer, events int) (int, error) {
	clk, err := ctfwriter.NewClock("my_clock")
	if err != nil {
		return 0, err
	}
	if err := clk.SetDescription("demo clock, one tick per nanosecond"); err != nil {
		return 0, err
	}
	sc, err := ctfwriter.NewStreamClass("my_stream")
	if err != nil {
		return 0, err
	}
	if err := sc.SetClock(clk); err != nil {
		return 0, err
	}
	ec, err := demoEventClass()
	if err != nil {
		return 0, err
	}
	if err := sc.AddEventClass(ec); err != nil {
		return 0, err
	}
	s, err := w.CreateStream(sc)
	if err != nil {
		return 0, err
	}

	for i := 0; i < events; i++ {
		e, err := ctfwriter.NewEvent(ec)
		if err != nil {
			return i, err
		}
		p := e.Payload()
		values := map[string]any{
			"point":   map[string]any{"x": int64(i), "y": int64(-i)},
			"label":   fmt.Sprintf("sample %d", i),
			"ratio":   float64(i) / float64(events),
			"state":   demoStates[i%len(demoStates)],
			"samples": []uint64{uint64(i) & 0xffff, uint64(i*2) & 0xffff, uint64(i*3) & 0xffff, uint64(i*4) & 0xffff},
		}
		if err := p.Set(values); err != nil {
			return i, err
		}
		if err := clk.SetTime(uint64(i) * 1000); err != nil {
			return i, err
		}
		if err := s.AppendEvent(e); err != nil {
			return i, err
		}
	}
	return events, nil
}
