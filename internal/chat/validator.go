package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxBodyBytes = 4096 // 4KB max frame size
	MaxBodyChars = 2000 // max character count
)

// ValidateBody checks that a message body meets content requirements.
// All failures wrap ErrInvalidMessage.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: body is empty", ErrInvalidMessage)
	}
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d byte limit", ErrInvalidMessage, MaxBodyBytes)
	}
	if utf8.RuneCountInString(body) > MaxBodyChars {
		return fmt.Errorf("%w: body exceeds %d character limit", ErrInvalidMessage, MaxBodyChars)
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: body contains invalid UTF-8", ErrInvalidMessage)
	}
	return nil
}
