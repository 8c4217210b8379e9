package rbac

import "errors"

var (
	ErrNotFound    = errors.New("rbac: not found")
	ErrValidation  = errors.New("rbac: invalid input")
	ErrForbidden   = errors.New("rbac: insufficient privilege")
	ErrUnavailable = errors.New("rbac: service unavailable")
)
