package parpipe

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/FerroO2000/parpipe/internal/input"
)

var (
	// ErrEndOfInput must be returned (or wrapped) by the pull function
	// when there are no more items.
	ErrEndOfInput = input.ErrEnd

	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = errors.New("parpipe: invalid configuration")

	// ErrSpawn is matched by every *SpawnError.
	ErrSpawn = errors.New("parpipe: failed to spawn role")
)

// ConfigError is returned by Run when the configuration cannot be fixed,
// before any role is spawned.
type ConfigError struct {
	Field  string
	Reason string
	Value  any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("parpipe: invalid configuration: %s %s (got %v)", e.Field, e.Reason, e.Value)
}

// Is makes errors.Is(err, ErrConfiguration) true.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// SpawnError is returned by Run when a role could not be started,
// for example because the OS refused to pin a worker to its core.
type SpawnError struct {
	Role string
	ID   int
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("parpipe: failed to spawn %s %d: %v", e.Role, e.ID, e.Err)
}

// Unwrap returns both ErrSpawn and the underlying error.
func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// PanicError is returned by Run when a user function panicked
// inside one of the roles. The run is aborted, the role is not restarted.
type PanicError struct {
	Role  string
	ID    int
	Value any
	Stack []byte
}

func newPanicError(role string, id int, value any) *PanicError {
	return &PanicError{
		Role:  role,
		ID:    id,
		Value: value,
		Stack: debug.Stack(),
	}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("parpipe: %s %d panicked: %v", e.Role, e.ID, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
