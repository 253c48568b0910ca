package middleware

import (
	"errors"
	"regexp"
)

var (
	idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)
	// User ids are JWT subjects issued elsewhere; anything printable without
	// whitespace or slashes is accepted.
	userIDPattern = regexp.MustCompile(`^[^\s/\\\p{Cc}]{1,256}$`)
)

// ValidateID validates a conversation or message ID taken from a path.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return errors.New("invalid id format")
	}
	return nil
}

// ValidateUserID validates a user ID taken from a path.
func ValidateUserID(id string) error {
	if id == "" {
		return errors.New("user id cannot be empty")
	}
	if !userIDPattern.MatchString(id) {
		return errors.New("invalid user id format")
	}
	return nil
}
