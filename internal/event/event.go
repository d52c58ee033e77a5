package event

import (
	"sync/atomic"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/field"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// Event is one instance of a registered Class. Each event owns its value
// trees; nothing is shared with other events of the same class.
type Event struct {
	class         *Class
	payload       *field.Struct
	context       *field.Struct
	streamContext *field.Struct
	ctxType       *fieldtype.Struct

	clockValue uint64
	clockSet   bool
	appended   atomic.Bool
}

// New instantiates an event. The class must already be registered in a
// stream class, whose event context is instantiated too.
func New(c *Class) (*Event, error) {
	if c == nil {
		return nil, ctferr.New(ctferr.KindInvalidArgument, "new event", "nil event class")
	}
	owner := c.Owner()
	if owner == nil {
		return nil, ctferr.New(ctferr.KindInvalidArgument, "new event", "event class %q is not registered in a stream class", c.Name())
	}
	e := &Event{class: c, payload: field.New(c.PayloadType()).(*field.Struct)}
	if ct := c.ContextType(); ct != nil {
		e.context = field.New(ct).(*field.Struct)
	}
	if st := owner.EventContextType(); st != nil {
		e.ctxType = st
		e.streamContext = field.New(st).(*field.Struct)
	}
	return e, nil
}

func (e *Event) Class() *Class { return e.class }

// Payload is the root payload value.
func (e *Event) Payload() *field.Struct { return e.payload }

// PayloadField looks up a top-level payload member.
func (e *Event) PayloadField(name string) (field.Field, error) { return e.payload.Field(name) }

// SetPayload assigns a top-level payload member.
func (e *Event) SetPayload(name string, v any) error {
	if err := e.checkMutable("event set payload"); err != nil {
		return err
	}
	return e.payload.SetField(name, v)
}

// Context returns the event-specific context value.
func (e *Event) Context() (*field.Struct, error) {
	if e.context == nil {
		return nil, ctferr.New(ctferr.KindNoSuchField, "event context", "event class %q declares no context", e.class.Name())
	}
	return e.context, nil
}

// StreamContext returns the stream event context value.
func (e *Event) StreamContext() (*field.Struct, error) {
	if e.streamContext == nil {
		return nil, ctferr.New(ctferr.KindNoSuchField, "stream event context", "stream class declares no event context")
	}
	return e.streamContext, nil
}

// StreamContextType is the stream event context type this event was built
// against, or nil.
func (e *Event) StreamContextType() *fieldtype.Struct { return e.ctxType }

// SetClockValue sets the event timestamp in raw clock ticks.
func (e *Event) SetClockValue(ticks uint64) error {
	if err := e.checkMutable("event set clock value"); err != nil {
		return err
	}
	e.clockValue, e.clockSet = ticks, true
	return nil
}

// ClockValue returns the explicit timestamp and whether one was set.
func (e *Event) ClockValue() (uint64, bool) { return e.clockValue, e.clockSet }

// MarkAppended records that the event is being serialized into a stream
// and freezes its value trees. It reports false if the event had already
// been appended.
func (e *Event) MarkAppended() bool {
	if !e.appended.CompareAndSwap(false, true) {
		return false
	}
	for _, s := range []*field.Struct{e.streamContext, e.context, e.payload} {
		if s != nil {
			s.Freeze()
		}
	}
	return true
}

func (e *Event) Appended() bool { return e.appended.Load() }

func (e *Event) checkMutable(op string) error {
	if e.appended.Load() {
		return ctferr.New(ctferr.KindFrozenSchema, op, "event already appended")
	}
	return nil
}
