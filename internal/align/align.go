// Package align implements parameter alignment: coercing a deserialized
// value to a declared parameter type. Numeric types follow
// standard widening; narrowing is rejected. Enum values arrive as an
// integral and are converted to the declared named type. Identifier
// strings are already resolved to objects by internal/codec before
// reaching this package; align only has to handle the remaining scalar
// conversions and validate kind-compatible assignment.
package align

import (
	"fmt"
	"reflect"

	"github.com/wirebond/objectrpc/internal/wire"
)

// Value coerces v (as decoded generically by a Codec) to target, applying
// numeric widening and enum-from-integral conversion. It rejects
// conversions that would narrow or lose information.
func Value(v interface{}, target reflect.Type) (reflect.Value, error) {
	if target == nil {
		if v == nil {
			return reflect.Value{}, nil
		}
		return reflect.ValueOf(v), nil
	}

	if v == nil {
		return reflect.Zero(target), nil
	}

	rv := reflect.ValueOf(v)

	// Already the right concrete type (includes resolved proxies/DTOs,
	// which the codec hands back already typed as interface{} wrapping
	// the concrete proxy type).
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(target) && sameKindFamily(rv.Kind(), target.Kind()) {
		return widen(rv, target)
	}

	return reflect.Value{}, wire.NewError(wire.ArityMismatch,
		"cannot align value of type %s to parameter type %s", rv.Type(), target)
}

func sameKindFamily(a, b reflect.Kind) bool {
	return isNumeric(a) && isNumeric(b) || a == b
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// widen performs the conversion, rejecting narrowing integer-to-smaller or
// float-to-integer conversions that would lose information for the
// specific decoded value.
func widen(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	srcKind, dstKind := rv.Kind(), target.Kind()

	if isNumeric(srcKind) && isNumeric(dstKind) {
		// Check fidelity whenever the destination is narrower, or whenever
		// crossing the int/float divide (e.g. float64 -> int64 are both 64
		// bits wide but a fractional value would still be silently
		// truncated). Round-tripping the converted value catches both.
		if bitSize(dstKind) < bitSize(srcKind) || isFloat(srcKind) != isFloat(dstKind) {
			if !fitsInNarrower(rv, target) {
				return reflect.Value{}, wire.NewError(wire.ArityMismatch,
					"narrowing conversion from %s to %s rejected", rv.Type(), target)
			}
		}
		return rv.Convert(target), nil
	}

	return rv.Convert(target), nil
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func bitSize(k reflect.Kind) int {
	switch k {
	case reflect.Int8, reflect.Uint8:
		return 8
	case reflect.Int16, reflect.Uint16:
		return 16
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 32
	case reflect.Int64, reflect.Uint64, reflect.Float64, reflect.Int, reflect.Uint:
		return 64
	default:
		return 64
	}
}

func fitsInNarrower(rv reflect.Value, target reflect.Type) bool {
	converted := rv.Convert(target)
	back := converted.Convert(rv.Type())
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return back.Float() == rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return back.Int() == rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return back.Uint() == rv.Uint()
	default:
		return true
	}
}

// Values aligns a slice of decoded arguments to a slice of declared
// parameter types, checking arity first.
func Values(args []interface{}, targets []reflect.Type) ([]reflect.Value, error) {
	if len(args) != len(targets) {
		return nil, wire.NewError(wire.ArityMismatch, "got %d arguments, expected %d", len(args), len(targets))
	}
	out := make([]reflect.Value, len(args))
	for i, a := range args {
		v, err := Value(a, targets[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
