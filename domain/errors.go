package domain

import "errors"

var (
	ErrTokenNotFound = errors.New("session token not found")
	ErrTokenExpired  = errors.New("session token expired")

	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateUser    = errors.New("username already taken")
	ErrFlagNotFound     = errors.New("security flag not found")
	ErrSessionNotFound  = errors.New("rate limit session not found")
	ErrAccountNotFound  = errors.New("forum account not found")
	ErrDuplicateAccount = errors.New("forum account already exists for this tenant")
)
