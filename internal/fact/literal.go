package fact

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// LiteralKind discriminates the typed value held by a Literal.
type LiteralKind string

const (
	LitString LiteralKind = "string"
	LitFloat  LiteralKind = "float"
	LitInt    LiteralKind = "int"
	LitBool   LiteralKind = "bool"
	LitEntity LiteralKind = "entity" // reference to another entity by ID
)

// Literal is the typed object of a fact. Construct with Str, Float,
// Int, Bool, or Ref; the zero value is an empty string literal.
// Values are immutable.
type Literal struct {
	kind LiteralKind
	str  string
	num  float64
	n    int64
	b    bool
}

// Str returns a string literal.
func Str(s string) Literal { return Literal{kind: LitString, str: s} }

// Float returns a floating-point literal.
func Float(v float64) Literal { return Literal{kind: LitFloat, num: v} }

// Int returns an integer literal.
func Int(v int64) Literal { return Literal{kind: LitInt, n: v} }

// Bool returns a boolean literal.
func Bool(v bool) Literal { return Literal{kind: LitBool, b: v} }

// Ref returns an entity-reference literal for relational facts
// (e.g. a segment crossing a bridge).
func Ref(entityID string) Literal { return Literal{kind: LitEntity, str: entityID} }

// Kind returns the literal's kind. The zero Literal reports LitString.
func (l Literal) Kind() LiteralKind {
	if l.kind == "" {
		return LitString
	}
	return l.kind
}

// StringVal returns the string value for LitString and LitEntity kinds,
// "" otherwise.
func (l Literal) StringVal() string { return l.str }

// FloatVal returns the numeric value for LitFloat and LitInt kinds,
// 0 otherwise.
func (l Literal) FloatVal() float64 {
	if l.kind == LitInt {
		return float64(l.n)
	}
	return l.num
}

// IntVal returns the integer value for LitInt, 0 otherwise.
func (l Literal) IntVal() int64 { return l.n }

// BoolVal returns the boolean value for LitBool, false otherwise.
func (l Literal) BoolVal() bool { return l.b }

// Numeric reports whether the literal can participate in ordered
// comparison.
func (l Literal) Numeric() bool {
	return l.kind == LitFloat || l.kind == LitInt
}

// Equal reports strict equality: same kind, same value.
func (l Literal) Equal(o Literal) bool {
	if l.Kind() != o.Kind() {
		return false
	}
	switch l.Kind() {
	case LitFloat:
		return l.num == o.num
	case LitInt:
		return l.n == o.n
	case LitBool:
		return l.b == o.b
	default:
		return l.str == o.str
	}
}

// Compare orders two numeric literals: -1, 0, or +1. The second return
// is false when either side is non-numeric.
func (l Literal) Compare(o Literal) (int, bool) {
	if !l.Numeric() || !o.Numeric() {
		return 0, false
	}
	a, b := l.FloatVal(), o.FloatVal()
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}

// String renders the value for logs and rationale lines.
func (l Literal) String() string {
	switch l.Kind() {
	case LitFloat:
		return strconv.FormatFloat(l.num, 'g', -1, 64)
	case LitInt:
		return strconv.FormatInt(l.n, 10)
	case LitBool:
		return strconv.FormatBool(l.b)
	default:
		return l.str
	}
}

// literalJSON is the wire form used for snapshot export.
type literalJSON struct {
	Kind  LiteralKind `json:"kind"`
	Value any         `json:"value"`
}

// MarshalJSON implements json.Marshaler with a stable field order.
func (l Literal) MarshalJSON() ([]byte, error) {
	out := literalJSON{Kind: l.Kind()}
	switch l.Kind() {
	case LitFloat:
		out.Value = l.num
	case LitInt:
		out.Value = l.n
	case LitBool:
		out.Value = l.b
	default:
		out.Value = l.str
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Literal) UnmarshalJSON(data []byte) error {
	var in literalJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case LitString, "":
		s, ok := in.Value.(string)
		if !ok {
			return fmt.Errorf("literal kind %q: value is not a string", in.Kind)
		}
		*l = Str(s)
	case LitEntity:
		s, ok := in.Value.(string)
		if !ok {
			return fmt.Errorf("literal kind %q: value is not a string", in.Kind)
		}
		*l = Ref(s)
	case LitFloat:
		f, ok := in.Value.(float64)
		if !ok {
			return fmt.Errorf("literal kind %q: value is not a number", in.Kind)
		}
		*l = Float(f)
	case LitInt:
		// JSON numbers decode as float64
		f, ok := in.Value.(float64)
		if !ok {
			return fmt.Errorf("literal kind %q: value is not a number", in.Kind)
		}
		*l = Int(int64(f))
	case LitBool:
		b, ok := in.Value.(bool)
		if !ok {
			return fmt.Errorf("literal kind %q: value is not a bool", in.Kind)
		}
		*l = Bool(b)
	default:
		return fmt.Errorf("unknown literal kind %q", in.Kind)
	}
	return nil
}
