package engine

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrSaveFailed   = errors.New("failed to save config")
)
