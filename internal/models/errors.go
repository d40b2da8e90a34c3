package models

import "errors"

var (
	// ErrInsufficientData is returned when a variable has too little history to train.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrModelNotFound is returned when no trained model exists for a variable.
	ErrModelNotFound = errors.New("model not found")
	// ErrSourceUnavailable wraps transient failures reading the telemetry source.
	ErrSourceUnavailable = errors.New("source unavailable")
)
