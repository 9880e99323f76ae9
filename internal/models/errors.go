package models

import "fmt"

// ValidationError is returned when caller input is empty or malformed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError is returned when an operation references a conversation
// that does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// ModelError is returned when the model call fails or its response
// carries no answer.
type ModelError struct {
	Message string
	Err     error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func ConversationNotFound(id int64) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf("conversation %d not found", id)}
}
