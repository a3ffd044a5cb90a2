package middleware

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/gemini-relay/internal/token"
)

// MaxMessageLength bounds inbound message text in bytes.
const MaxMessageLength = 100000

var (
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrMessageEncoding = errors.New("message must be valid UTF-8")
	ErrImageTooLarge   = errors.New("image exceeds maximum size")
	ErrImageType       = errors.New("attachment is not a supported image")
)

// ValidateMessageContent validates message text. Empty text is allowed here;
// whether a message is present at all is decided by the caller.
func ValidateMessageContent(content string) error {
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageEncoding
	}
	return nil
}

// ValidateToken validates a client supplied token and returns it normalized.
func ValidateToken(raw string) (string, error) {
	return token.Normalize(strings.TrimSpace(raw))
}

// ValidateImage checks size and sniffs the MIME type of an uploaded image.
func ValidateImage(data []byte, maxBytes int64) (string, error) {
	if int64(len(data)) > maxBytes {
		return "", ErrImageTooLarge
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", ErrImageType
	}
	return mimeType, nil
}
