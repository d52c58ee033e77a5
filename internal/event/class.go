package event

import (
	"sync"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// Owner is the stream class an event class is registered into.
type Owner interface {
	Name() string
	// EventContextType is the per-event context shared by every class of
	// the owner, or nil.
	EventContextType() *fieldtype.Struct
}

// Class is a named event schema: an implicit payload structure plus an
// optional context structure.
type Class struct {
	mu      sync.Mutex
	name    string
	id      uint64
	hasID   bool
	payload *fieldtype.Struct
	context *fieldtype.Struct
	owner   Owner
}

// NewClass creates an unregistered event class.
func NewClass(name string) (*Class, error) {
	if err := fieldtype.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	return &Class{name: name, payload: fieldtype.NewStruct()}, nil
}

func (c *Class) Name() string { return c.name }

// ID returns the numeric id and whether one has been assigned.
func (c *Class) ID() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.hasID
}

func (c *Class) SetID(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner != nil {
		return ctferr.New(ctferr.KindFrozenSchema, "event class set id", "%q is registered", c.name)
	}
	c.id, c.hasID = id, true
	return nil
}

// AddField appends a member to the payload structure.
func (c *Class) AddField(ft fieldtype.Type, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner != nil {
		return ctferr.New(ctferr.KindFrozenSchema, "event class add field", "%q is registered in stream class %q", c.name, c.owner.Name())
	}
	return c.payload.AddField(ft, name)
}

// PayloadType is the implicit payload structure.
func (c *Class) PayloadType() *fieldtype.Struct { return c.payload }

// Field looks up a payload member type by name.
func (c *Class) Field(name string) (fieldtype.Type, error) {
	ft, _, ok := c.payload.Field(name)
	if !ok {
		return nil, ctferr.New(ctferr.KindNoSuchField, "event class field", "%q has no field %q", c.name, name)
	}
	return ft, nil
}

func (c *Class) ContextType() *fieldtype.Struct {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context
}

// SetContextType declares the event-specific context section.
func (c *Class) SetContextType(st *fieldtype.Struct) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner != nil {
		return ctferr.New(ctferr.KindFrozenSchema, "event class set context", "%q is registered", c.name)
	}
	c.context = st
	return nil
}

func (c *Class) Owner() Owner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

func (c *Class) Registered() bool { return c.Owner() != nil }

// Bind registers the class into owner under id and freezes its schema. A
// class can be bound once.
func (c *Class) Bind(owner Owner, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner == nil {
		return ctferr.New(ctferr.KindInvalidArgument, "event class bind", "nil owner")
	}
	if c.owner != nil {
		return ctferr.New(ctferr.KindForeignEventClass, "event class bind", "%q already belongs to stream class %q", c.name, c.owner.Name())
	}
	c.owner = owner
	c.id, c.hasID = id, true
	c.payload.Freeze()
	if c.context != nil {
		c.context.Freeze()
	}
	return nil
}
