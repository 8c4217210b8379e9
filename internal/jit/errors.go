package jit

import "errors"

var (
	ErrValidation   = errors.New("jit: invalid input")
	ErrConflict     = errors.New("jit: duplicate open request")
	ErrNotFound     = errors.New("jit: not found")
	ErrInvalidState = errors.New("jit: transition not allowed from current status")
	ErrForbidden    = errors.New("jit: insufficient privilege")
	ErrUnavailable  = errors.New("jit: service unavailable")
)
