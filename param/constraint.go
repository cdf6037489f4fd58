package param

import "fmt"

// Kind identifies a constraint family.
type Kind uint8

// Constraint kinds supported by the tying semantics: at most one active
// constraint per leaf.
const (
	KindPositive Kind = iota + 1
	KindNegative
	KindBounded
	KindFixed
)

// Constraint restricts the admissible values of a leaf. It is a pure value
// type; equality of constraints decides whether tied leaves agree.
type Constraint struct {
	Kind   Kind
	Lo, Hi float64 // bounds, meaningful for KindBounded only
}

// Positive constrains a leaf to values greater than zero.
func Positive() Constraint { return Constraint{Kind: KindPositive} }

// Negative constrains a leaf to values less than zero.
func Negative() Constraint { return Constraint{Kind: KindNegative} }

// Bounded constrains a leaf to the closed interval [lo, hi].
func Bounded(lo, hi float64) Constraint { return Constraint{Kind: KindBounded, Lo: lo, Hi: hi} }

// Fixed marks a leaf as not optimizable.
func Fixed() Constraint { return Constraint{Kind: KindFixed} }

// Equal reports whether two constraints are interchangeable.
func (c Constraint) Equal(o Constraint) bool {
	return c.Kind == o.Kind && c.Lo == o.Lo && c.Hi == o.Hi
}

// String returns a short human-readable form used in warnings.
func (c Constraint) String() string {
	switch c.Kind {
	case KindPositive:
		return "+ve"
	case KindNegative:
		return "-ve"
	case KindBounded:
		return fmt.Sprintf("[%g, %g]", c.Lo, c.Hi)
	case KindFixed:
		return "fixed"
	default:
		return fmt.Sprintf("kind(%d)", c.Kind)
	}
}
