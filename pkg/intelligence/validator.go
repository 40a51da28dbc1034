package intelligence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Validation errors returned by Validator.Validate.
var (
	// ErrEmptyContent indicates the candidate was empty or whitespace.
	ErrEmptyContent = errors.New("content is empty")

	// ErrContentTooShort indicates the candidate was below the minimum
	// length.
	ErrContentTooShort = errors.New("content too short")

	// ErrPlaceholderContent indicates the candidate was a placeholder
	// value rather than real information.
	ErrPlaceholderContent = errors.New("content is a placeholder")
)

// minContentLength is the minimum number of characters a candidate must
// have after trimming.
const minContentLength = 3

// placeholderValues are normalized candidate texts that carry no
// information and are rejected outright.
var placeholderValues = map[string]bool{
	"n/a":       true,
	"na":        true,
	"none":      true,
	"null":      true,
	"nil":       true,
	"undefined": true,
	"unknown":   true,
	"test":      true,
	"todo":      true,
	"tbd":       true,
	"...":       true,
	"-":         true,
}

// Validator rejects low-quality candidates before they reach the task
// queue, with a logged reason.
type Validator struct {
	logger zerolog.Logger
}

// NewValidator creates a content validator.
func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{
		logger: logger.With().Str("component", "validator").Logger(),
	}
}

// Validate checks a candidate text for storability. A non-nil error means
// the candidate must be rejected; the reason is logged.
func (v *Validator) Validate(text string) error {
	trimmed := strings.TrimSpace(text)

	var err error
	switch {
	case trimmed == "":
		err = ErrEmptyContent
	case placeholderValues[strings.ToLower(trimmed)]:
		err = fmt.Errorf("%w: %q", ErrPlaceholderContent, trimmed)
	case len([]rune(trimmed)) < minContentLength:
		err = fmt.Errorf("%w: %d chars", ErrContentTooShort, len([]rune(trimmed)))
	}

	if err != nil {
		v.logger.Info().Err(err).Msg("candidate rejected")
	}
	return err
}
