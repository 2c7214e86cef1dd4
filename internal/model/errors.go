package model

import (
	"errors"
)

var (
	ErrMissingEnv     = errors.New("missing environment variable")
	ErrBadExtension   = errors.New("unsupported report extension")
	ErrBadProjectPair = errors.New("invalid project pair")
	ErrNoToken        = errors.New("environment has no access token")
)
