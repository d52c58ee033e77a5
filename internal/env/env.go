package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// Value is a trace environment value: either a string or an integer.
type Value struct {
	Str   string
	Int   int64
	IsInt bool
}

func (v Value) String() string {
	if v.IsInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// Env holds the trace environment in insertion order. Setting an existing
// key replaces its value in place.
type Env struct {
	mu   sync.Mutex
	keys []string
	vals map[string]Value
	os   map[string]string // cached base from OS environment
}

func New() *Env {
	return &Env{vals: make(map[string]Value)}
}

// Set upserts k. v must be a string or an integer that fits int64.
func (e *Env) Set(k string, v any) error {
	const op = "env set"
	if err := fieldtype.ValidateFieldName(k); err != nil {
		return err
	}
	var val Value
	switch x := v.(type) {
	case string:
		val = Value{Str: x}
	case int:
		val = Value{Int: int64(x), IsInt: true}
	case int8:
		val = Value{Int: int64(x), IsInt: true}
	case int16:
		val = Value{Int: int64(x), IsInt: true}
	case int32:
		val = Value{Int: int64(x), IsInt: true}
	case int64:
		val = Value{Int: x, IsInt: true}
	case uint8:
		val = Value{Int: int64(x), IsInt: true}
	case uint16:
		val = Value{Int: int64(x), IsInt: true}
	case uint32:
		val = Value{Int: int64(x), IsInt: true}
	case uint:
		if uint64(x) > 1<<63-1 {
			return ctferr.New(ctferr.KindOutOfRange, op, "%q: %d does not fit a signed 64-bit value", k, x)
		}
		val = Value{Int: int64(x), IsInt: true}
	case uint64:
		if x > 1<<63-1 {
			return ctferr.New(ctferr.KindOutOfRange, op, "%q: %d does not fit a signed 64-bit value", k, x)
		}
		val = Value{Int: int64(x), IsInt: true}
	default:
		return ctferr.New(ctferr.KindTypeMismatch, op, "%q: unsupported value type %T", k, v)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.vals[k]; !ok {
		e.keys = append(e.keys, k)
	}
	e.vals[k] = val
	return nil
}

// Get returns the value of k.
func (e *Env) Get(k string) (Value, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vals[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (e *Env) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.keys...)
}

func (e *Env) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.keys)
}

// FromOS caches the current process environment used by Expand.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.mu.Lock()
	e.os = base
	e.mu.Unlock()
}

// Expand replaces ${VAR} with process environment variables and values
// already set on e, which take precedence. Unknown names are left as is.
func (e *Env) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	e.mu.Lock()
	if e.os == nil {
		e.mu.Unlock()
		e.FromOS()
		e.mu.Lock()
	}
	m := make(map[string]string, len(e.os)+len(e.vals))
	for k, v := range e.os {
		m[k] = v
	}
	for k, v := range e.vals {
		m[k] = v.String()
	}
	e.mu.Unlock()
	return expand(s, m)
}

func expand(s string, m map[string]string) string {
	res := s
	// simple ${VAR} expansion; iterate over keys present
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

// TSDL renders the env block, or nothing when the environment is empty.
func (e *Env) TSDL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.keys) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("env {\n")
	for _, k := range e.keys {
		v := e.vals[k]
		if v.IsInt {
			fmt.Fprintf(&b, "\t%s = %d;\n", k, v.Int)
		} else {
			fmt.Fprintf(&b, "\t%s = %s;\n", k, strconv.Quote(v.Str))
		}
	}
	b.WriteString("};\n\n")
	return b.String()
}
