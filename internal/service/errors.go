package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shenikar/crowd_report_trust/internal/lifecycle"
	"github.com/shenikar/crowd_report_trust/internal/models"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrDeviceBanned      = errors.New("device is banned")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrNotFound          = models.ErrNotFound
	ErrInvalidTransition = lifecycle.ErrInvalidTransition
)

// ValidationError - ошибка входных данных, до любой записи в хранилище
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// classify оставляет доменные ошибки как есть, таймауты и отмену
// превращает в ErrStoreUnavailable
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrDeviceBanned):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
