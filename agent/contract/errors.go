package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrClassification  = errors.New("intent classification failed")
	ErrToolTimeout     = errors.New("tool call timed out")
	ErrToolTransport   = errors.New("tool transport failed")
)
