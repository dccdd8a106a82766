package domain

import "errors"

var (
	ErrIntentNotFound          = errors.New("signup intent not found")
	ErrIntentAlreadyProgressed = errors.New("signup intent already progressed past checkout")
	ErrInvalidTransition       = errors.New("invalid signup intent transition")
	ErrInvalidIntent           = errors.New("invalid signup intent request")
)
