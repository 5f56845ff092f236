package payment

import "errors"

var (
	ErrMissingConfig   = errors.New("payment: missing configuration")
	ErrInvalidInput    = errors.New("payment: invalid input")
	ErrUnsupportedPlan = errors.New("payment: no price configured for plan")
)
