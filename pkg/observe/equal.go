package observe

import "reflect"

// EqualFunc compares two values for equality.
type EqualFunc[T any] func(a, b T) bool

// Equal compares comparable values with ==.
func Equal[T comparable](a, b T) bool {
	return a == b
}

// defaultEquals provides type-appropriate equality checking.
// Uses == for common scalar types and reflect.DeepEqual for everything else.
func defaultEquals[T any](a, bv T) bool {
	b := any(bv)
	switch av := any(a).(type) {
	case int:
		return sameScalar(av, b)
	case int8:
		return sameScalar(av, b)
	case int16:
		return sameScalar(av, b)
	case int32:
		return sameScalar(av, b)
	case int64:
		return sameScalar(av, b)
	case uint:
		return sameScalar(av, b)
	case uint8:
		return sameScalar(av, b)
	case uint16:
		return sameScalar(av, b)
	case uint32:
		return sameScalar(av, b)
	case uint64:
		return sameScalar(av, b)
	case float32:
		return sameScalar(av, b)
	case float64:
		return sameScalar(av, b)
	case string:
		return sameScalar(av, b)
	case bool:
		return sameScalar(av, b)
	default:
		return reflect.DeepEqual(a, bv)
	}
}

// sameScalar also handles interface-typed T, where b may hold another type.
func sameScalar[V comparable](av V, b any) bool {
	bv, ok := b.(V)
	return ok && av == bv
}
