package clock

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"sync"
	"sync/atomic"

	bclock "github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

const (
	DefaultFrequency uint64 = 1_000_000_000
	DefaultPrecision uint64 = 1
)

// Clock is a named tick counter referenced by stream classes. Its value is
// either set explicitly by the caller or derived from a wall-clock source;
// in both modes it never goes backwards. Frequency and offsets are metadata
// for readers and are never applied to recorded values.
type Clock struct {
	mu          sync.Mutex
	name        string
	description string
	frequency   uint64
	precision   uint64
	offsetS     int64
	offset      int64
	absolute    bool
	uuid        uuid.UUID

	value  uint64
	source bclock.Clock
	locked atomic.Bool
}

// New creates a clock with a 1 GHz frequency, a precision of one tick and
// a random UUID.
func New(name string) (*Clock, error) {
	if err := fieldtype.ValidateFieldName(name); err != nil {
		return nil, err
	}
	return &Clock{
		name:      name,
		frequency: DefaultFrequency,
		precision: DefaultPrecision,
		uuid:      uuid.New(),
	}, nil
}

func (c *Clock) Name() string { return c.name }

// Lock freezes the clock's metadata. Values can still advance.
func (c *Clock) Lock()        { c.locked.Store(true) }
func (c *Clock) Locked() bool { return c.locked.Load() }

func (c *Clock) mutate(op string, fn func() error) error {
	if c.locked.Load() {
		return ctferr.New(ctferr.KindFrozenSchema, op, "clock %q is in use by a stream", c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

func (c *Clock) Description() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

func (c *Clock) SetDescription(d string) error {
	return c.mutate("clock set description", func() error {
		if strings.ContainsAny(d, "\"\\\n") {
			return ctferr.New(ctferr.KindInvalidArgument, "clock set description", "description contains quotes or newlines")
		}
		c.description = d
		return nil
	})
}

func (c *Clock) Frequency() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frequency
}

func (c *Clock) SetFrequency(hz uint64) error {
	return c.mutate("clock set frequency", func() error {
		if hz == 0 {
			return ctferr.New(ctferr.KindInvalidArgument, "clock set frequency", "frequency must be positive")
		}
		c.frequency = hz
		return nil
	})
}

func (c *Clock) Precision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.precision
}

func (c *Clock) SetPrecision(ticks uint64) error {
	return c.mutate("clock set precision", func() error {
		c.precision = ticks
		return nil
	})
}

// Offset returns offset_s (seconds) and offset (ticks) from the epoch.
func (c *Clock) Offset() (seconds, ticks int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsetS, c.offset
}

func (c *Clock) SetOffsetSeconds(s int64) error {
	return c.mutate("clock set offset_s", func() error {
		c.offsetS = s
		return nil
	})
}

func (c *Clock) SetOffset(ticks int64) error {
	return c.mutate("clock set offset", func() error {
		c.offset = ticks
		return nil
	})
}

func (c *Clock) Absolute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.absolute
}

func (c *Clock) SetAbsolute(abs bool) error {
	return c.mutate("clock set absolute", func() error {
		c.absolute = abs
		return nil
	})
}

func (c *Clock) UUID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uuid
}

func (c *Clock) SetUUID(id uuid.UUID) error {
	return c.mutate("clock set uuid", func() error {
		c.uuid = id
		return nil
	})
}

// UseSource switches the clock to real-time mode driven by src. A nil src
// selects the system clock.
func (c *Clock) UseSource(src bclock.Clock) {
	if src == nil {
		src = bclock.New()
	}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
}

// RealTime reports whether values come from a wall-clock source.
func (c *Clock) RealTime() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source != nil
}

// SetTime sets the current value in ticks. Going backwards is rejected.
func (c *Clock) SetTime(ticks uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ticks < c.value {
		return ctferr.New(ctferr.KindOutOfRange, "clock set time", "clock %q cannot go back from %d to %d", c.name, c.value, ticks)
	}
	c.value = ticks
	return nil
}

// Time returns the current value in ticks. In real-time mode the value is
// sampled from the source and clamped so it never decreases.
func (c *Clock) Time() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source != nil {
		if now := c.ticksAt(c.source.Now().UnixNano()); now > c.value {
			c.value = now
		}
	}
	return c.value
}

// ticksAt converts nanoseconds since the epoch into ticks past the clock
// offset, saturating at both ends.
func (c *Clock) ticksAt(ns int64) uint64 {
	if ns <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(ns), c.frequency)
	if hi >= 1_000_000_000 {
		return math.MaxUint64
	}
	ticks, _ := bits.Div64(hi, lo, 1_000_000_000)

	neg, bHi, bLo := c.offsetTicks()
	if neg {
		if bHi > 0 {
			return math.MaxUint64
		}
		sum, carry := bits.Add64(ticks, bLo, 0)
		if carry != 0 {
			return math.MaxUint64
		}
		return sum
	}
	if bHi > 0 || bLo >= ticks {
		return 0
	}
	return ticks - bLo
}

// offsetTicks is offset_s*frequency + offset as a sign and a 128-bit
// magnitude.
func (c *Clock) offsetTicks() (neg bool, hi, lo uint64) {
	sHi, sLo := bits.Mul64(abs64(c.offsetS), c.frequency)
	sNeg := c.offsetS < 0
	o, oNeg := abs64(c.offset), c.offset < 0
	switch {
	case sHi == 0 && sLo == 0:
		return oNeg, 0, o
	case o == 0:
		return sNeg, sHi, sLo
	case sNeg == oNeg:
		var carry uint64
		lo, carry = bits.Add64(sLo, o, 0)
		return sNeg, sHi + carry, lo
	case sHi > 0 || sLo >= o:
		var borrow uint64
		lo, borrow = bits.Sub64(sLo, o, 0)
		return sNeg, sHi - borrow, lo
	default:
		return oNeg, 0, o - sLo
	}
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

// TSDL renders the clock declaration block.
func (c *Clock) TSDL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	b.WriteString("clock {\n")
	fmt.Fprintf(&b, "\tname = %s;\n", c.name)
	fmt.Fprintf(&b, "\tuuid = \"%s\";\n", c.uuid)
	fmt.Fprintf(&b, "\tdescription = \"%s\";\n", c.description)
	fmt.Fprintf(&b, "\tfreq = %d;\n", c.frequency)
	fmt.Fprintf(&b, "\tprecision = %d;\n", c.precision)
	fmt.Fprintf(&b, "\toffset_s = %d;\n", c.offsetS)
	fmt.Fprintf(&b, "\toffset = %d;\n", c.offset)
	if c.absolute {
		b.WriteString("\tabsolute = TRUE;\n")
	} else {
		b.WriteString("\tabsolute = FALSE;\n")
	}
	b.WriteString("};\n")
	return b.String()
}
