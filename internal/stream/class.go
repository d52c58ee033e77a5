package stream

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/ctfwriter/internal/clock"
	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/event"
	"github.com/loykin/ctfwriter/internal/fieldtype"
	"github.com/loykin/ctfwriter/internal/packet"
)

// Class groups event classes sharing a clock and a packet layout. It is
// configured freely until the first stream is created from it.
type Class struct {
	mu     sync.Mutex
	name   string
	id     uint32
	hasID  bool
	clock  *clock.Clock
	cpuID  bool
	evCtx  *fieldtype.Struct
	events []*event.Class
	byName map[string]*event.Class
	byID   map[uint64]*event.Class

	frozen  bool
	layout  packet.Layout
	streams int
}

// NewClass creates an empty stream class.
func NewClass(name string) (*Class, error) {
	if err := fieldtype.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, ctferr.New(ctferr.KindInvalidArgument, "new stream class", "%q cannot name a stream file", name)
	}
	return &Class{
		name:   name,
		byName: make(map[string]*event.Class),
		byID:   make(map[uint64]*event.Class),
	}, nil
}

func (c *Class) Name() string { return c.name }

// ID returns the stream id and whether one has been assigned.
func (c *Class) ID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.hasID
}

func (c *Class) SetID(id uint32) error {
	return c.mutate("stream class set id", func() error {
		c.id, c.hasID = id, true
		return nil
	})
}

func (c *Class) Clock() *clock.Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// SetClock selects the clock event timestamps are sampled from and mapped
// to in the metadata.
func (c *Class) SetClock(clk *clock.Clock) error {
	return c.mutate("stream class set clock", func() error {
		c.clock = clk
		return nil
	})
}

// SetCPUID adds a cpu_id member to the packet context.
func (c *Class) SetCPUID(enabled bool) error {
	return c.mutate("stream class set cpu id", func() error {
		c.cpuID = enabled
		return nil
	})
}

func (c *Class) CPUID() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cpuID
}

// EventContextType is the context every event of this class carries
// between the event header and the event-specific context.
func (c *Class) EventContextType() *fieldtype.Struct {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evCtx
}

func (c *Class) SetEventContextType(st *fieldtype.Struct) error {
	return c.mutate("stream class set event context", func() error {
		c.evCtx = st
		return nil
	})
}

// AddEventClass registers ec. Without a caller id, the lowest unused one
// is assigned.
func (c *Class) AddEventClass(ec *event.Class) error {
	const op = "stream class add event class"
	if ec == nil {
		return ctferr.New(ctferr.KindInvalidArgument, op, "nil event class")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ctferr.New(ctferr.KindFrozenSchema, op, "stream class %q already has streams", c.name)
	}
	if owner := ec.Owner(); owner != nil {
		return ctferr.New(ctferr.KindForeignEventClass, op, "%q already belongs to stream class %q", ec.Name(), owner.Name())
	}
	if _, dup := c.byName[ec.Name()]; dup {
		return ctferr.New(ctferr.KindDuplicateName, op, "stream class %q already has event class %q", c.name, ec.Name())
	}
	id, ok := ec.ID()
	if ok {
		if id > math.MaxUint32 {
			return ctferr.New(ctferr.KindOutOfRange, op, "event class id %d does not fit the 32-bit event header", id)
		}
		if other, dup := c.byID[id]; dup {
			return ctferr.New(ctferr.KindDuplicateID, op, "id %d is taken by event class %q", id, other.Name())
		}
	} else {
		for c.byID[id] != nil {
			id++
		}
	}
	if err := ec.Bind(c, id); err != nil {
		return err
	}
	c.events = append(c.events, ec)
	c.byName[ec.Name()] = ec
	c.byID[id] = ec
	return nil
}

// EventClasses returns the registered classes in registration order.
func (c *Class) EventClasses() []*event.Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*event.Class(nil), c.events...)
}

func (c *Class) EventClass(name string) (*event.Class, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ec, ok := c.byName[name]
	if !ok {
		return nil, ctferr.New(ctferr.KindNoSuchField, "stream class event class", "stream class %q has no event class %q", c.name, name)
	}
	return ec, nil
}

func (c *Class) EventClassByID(id uint64) (*event.Class, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ec, ok := c.byID[id]
	return ec, ok
}

// Frozen reports whether a stream has been created from the class.
func (c *Class) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// Freeze fixes the schema and the packet layout for byte order. The first
// call wins; later calls return the same layout.
func (c *Class) Freeze(order fieldtype.ByteOrder) packet.Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return c.layout
	}
	clockName := ""
	if c.clock != nil {
		c.clock.Lock()
		clockName = c.clock.Name()
	}
	if c.evCtx != nil {
		c.evCtx.Freeze()
	}
	c.layout = packet.DefaultLayout(order, clockName, c.cpuID)
	c.frozen = true
	return c.layout
}

// Layout returns the packet layout once frozen.
func (c *Class) Layout() (packet.Layout, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout, c.frozen
}

// EventLayout resolves an event id to its decode schema.
func (c *Class) EventLayout(id uint32) (packet.EventLayout, bool) {
	ec, ok := c.EventClassByID(uint64(id))
	if !ok {
		return packet.EventLayout{}, false
	}
	return packet.EventLayout{
		StreamContext: c.EventContextType(),
		Context:       ec.ContextType(),
		Payload:       ec.PayloadType(),
	}, true
}

func (c *Class) nextStreamIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.streams
	c.streams++
	return n
}

func (c *Class) mutate(op string, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ctferr.New(ctferr.KindFrozenSchema, op, "stream class %q already has streams", c.name)
	}
	return fn()
}

// TSDL renders the stream block followed by one event block per class,
// ordered by id.
func (c *Class) TSDL(order fieldtype.ByteOrder) string {
	c.mu.Lock()
	layout := c.layout
	if !c.frozen {
		clockName := ""
		if c.clock != nil {
			clockName = c.clock.Name()
		}
		layout = packet.DefaultLayout(order, clockName, c.cpuID)
	}
	id, evCtx := c.id, c.evCtx
	events := append([]*event.Class(nil), c.events...)
	c.mu.Unlock()

	var b strings.Builder
	b.WriteString("stream {\n")
	fmt.Fprintf(&b, "\tid = %d;\n", id)
	fmt.Fprintf(&b, "\tevent.header := %s;\n", fieldtype.Declaration(layout.EventHeader, "", 1))
	fmt.Fprintf(&b, "\tpacket.context := %s;\n", fieldtype.Declaration(layout.Context, "", 1))
	if evCtx != nil {
		fmt.Fprintf(&b, "\tevent.context := %s;\n", fieldtype.Declaration(evCtx, "", 1))
	}
	b.WriteString("};\n\n")

	sort.SliceStable(events, func(i, j int) bool {
		a, _ := events[i].ID()
		z, _ := events[j].ID()
		return a < z
	})
	for _, ec := range events {
		eid, _ := ec.ID()
		b.WriteString("event {\n")
		fmt.Fprintf(&b, "\tname = \"%s\";\n", ec.Name())
		fmt.Fprintf(&b, "\tid = %d;\n", eid)
		fmt.Fprintf(&b, "\tstream_id = %d;\n", id)
		if ctx := ec.ContextType(); ctx != nil {
			fmt.Fprintf(&b, "\tcontext := %s;\n", fieldtype.Declaration(ctx, "", 1))
		}
		fmt.Fprintf(&b, "\tfields := %s;\n", fieldtype.Declaration(ec.PayloadType(), "", 1))
		b.WriteString("};\n\n")
	}
	return b.String()
}
