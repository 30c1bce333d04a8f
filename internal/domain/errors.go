package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrLockHeld           = errors.New("lock already held")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrMarketFrozen       = errors.New("market frozen")
)
