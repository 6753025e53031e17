package model

type editKind int

const (
	editNoChange editKind = iota
	editSet
	editClear
)

// FieldEdit expresses a partial-update intent for one field without conflating
// "leave as is" with "set to empty".
type FieldEdit[T any] struct {
	kind  editKind
	value T
}

func NoChange[T any]() FieldEdit[T] { return FieldEdit[T]{kind: editNoChange} }

func Set[T any](v T) FieldEdit[T] { return FieldEdit[T]{kind: editSet, value: v} }

func Clear[T any]() FieldEdit[T] { return FieldEdit[T]{kind: editClear} }

func (e FieldEdit[T]) IsSet() bool { return e.kind == editSet }

// Resolve collapses the edit against the current stored value. onClear supplies
// the field-specific default used when the edit means Clear.
func (e FieldEdit[T]) Resolve(current T, onClear func() T) T {
	switch e.kind {
	case editSet:
		return e.value
	case editClear:
		return onClear()
	default:
		return current
	}
}
