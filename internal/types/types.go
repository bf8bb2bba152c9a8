// internal/types/types.go
package types

import "strings"

// Kind identifies which member of the closed type universe a Type is
type Kind string

const (
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindBoolean  Kind = "boolean"
	KindString   Kind = "string"
	KindVoid     Kind = "void"
	KindNull     Kind = "null"
	KindArray    Kind = "array"
	KindClass    Kind = "class"
	KindFunction Kind = "function"

	// KindError is the sentinel attached to expressions that already
	// produced a semantic error. It is silently compatible with everything
	// so one mistake does not cascade into a wall of follow-up errors.
	KindError Kind = "<error>"
)

// Type represents a Compiscript type. Scalar types are shared singletons;
// array, class and function types are built on demand.
type Type struct {
	Kind   Kind
	Elem   *Type   // element type when Kind == KindArray
	Name   string  // class name when Kind == KindClass
	Params []*Type // parameter types when Kind == KindFunction
	Return *Type   // return type when Kind == KindFunction
}

var (
	Integer = &Type{Kind: KindInteger}
	Float   = &Type{Kind: KindFloat}
	Boolean = &Type{Kind: KindBoolean}
	String  = &Type{Kind: KindString}
	Void    = &Type{Kind: KindVoid}
	Null    = &Type{Kind: KindNull}
	Error   = &Type{Kind: KindError}
)

// NewArray returns the type of arrays holding elem values
func NewArray(elem *Type) *Type {
	return &Type{Kind: KindArray, Elem: elem}
}

// NewClass returns the type of instances of the named class
func NewClass(name string) *Type {
	return &Type{Kind: KindClass, Name: name}
}

// NewFunction returns a function type with the given signature
func NewFunction(params []*Type, ret *Type) *Type {
	return &Type{Kind: KindFunction, Params: params, Return: ret}
}

// String renders the type the way it is written in source
func (t *Type) String() string {
	switch t.Kind {
	case KindArray:
		return t.Elem.String() + "[]"
	case KindClass:
		return t.Name
	case KindFunction:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		return "function(" + strings.Join(parts, ",") + "):" + t.Return.String()
	default:
		return string(t.Kind)
	}
}

func (t *Type) IsNumeric() bool {
	return t.Kind == KindInteger || t.Kind == KindFloat
}

func (t *Type) IsError() bool {
	return t.Kind == KindError
}

// IsReference reports whether null may stand in for a value of this type
func (t *Type) IsReference() bool {
	return t.Kind == KindArray || t.Kind == KindClass
}

// Equals is structural identity: arrays compare element types, functions
// compare full signatures, classes compare by name.
func Equals(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindArray:
		return Equals(a.Elem, b.Elem)
	case KindClass:
		return a.Name == b.Name
	case KindFunction:
		if len(a.Params) != len(b.Params) || !Equals(a.Return, b.Return) {
			return false
		}
		for i := range a.Params {
			if !Equals(a.Params[i], b.Params[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// AreAssignable reports whether a value of type from may be stored in a
// location of type to: identity always, integer widens to float, and null
// is assignable to any reference type.
func AreAssignable(from, to *Type) bool {
	if from.IsError() || to.IsError() {
		return true
	}
	if Equals(from, to) {
		return true
	}
	if from.Kind == KindInteger && to.Kind == KindFloat {
		return true
	}
	if from.Kind == KindNull && to.IsReference() {
		return true
	}
	return false
}

// Promote returns the common arithmetic type of two numeric operands.
// integer op float is carried out in float. An error operand yields
// (Error, true); otherwise the second result is false when either operand
// is not numeric.
func Promote(a, b *Type) (*Type, bool) {
	if a.IsError() || b.IsError() {
		return Error, true
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return nil, false
	}
	if a.Kind == KindFloat || b.Kind == KindFloat {
		return Float, true
	}
	return Integer, true
}

// SizeInWords is the storage footprint of a value: scalars and references
// are all one machine word.
func SizeInWords(t *Type) int {
	return 1
}

// DefaultValue is the literal token a declaration without an initializer
// assigns.
func DefaultValue(t *Type) string {
	switch t.Kind {
	case KindInteger:
		return "0"
	case KindFloat:
		return "0.0"
	case KindBoolean:
		return "false"
	case KindString:
		return `""`
	default:
		return "null"
	}
}
