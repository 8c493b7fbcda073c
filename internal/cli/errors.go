package cli

import "fmt"

type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.kind, e.id)
}

func errNotFound(kind, id string) error {
	return notFoundError{kind: kind, id: id}
}

type invalidIndexError struct {
	arg string
}

func (e invalidIndexError) Error() string {
	return fmt.Sprintf("invalid index %q (expected a non-negative integer)", e.arg)
}
