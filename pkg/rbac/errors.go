package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrRoleNotFound is returned when a role identifier is not in the catalog
	ErrRoleNotFound = errors.New("role not found")

	// ErrPrincipalNotFound is returned when the target principal does not exist
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrPrincipalInactive is returned when the target principal is suspended
	ErrPrincipalInactive = errors.New("principal is not active")

	// ErrDuplicateActiveRole is returned when the principal already holds the role in an overlapping window
	ErrDuplicateActiveRole = errors.New("principal already holds an overlapping assignment of this role")

	// ErrInvalidWindow is returned when a window end is not strictly after its start
	ErrInvalidWindow = errors.New("invalid validity window")

	// ErrPermissionDenied is returned when the actor lacks the permission an operation requires
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAssignmentNotFound is returned when an assignment identifier is unknown
	ErrAssignmentNotFound = errors.New("role assignment not found")

	// ErrAlreadyBootstrapped is returned when bootstrapping while an all-permissions role is active
	ErrAlreadyBootstrapped = errors.New("an all-permissions role is already assigned")

	// ErrStorage is the class of all translated persistence failures
	ErrStorage = errors.New("role storage unavailable")
)

// StorageError carries a persistence failure across the store boundary.
// errors.Is(err, ErrStorage) holds for every StorageError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage.Error(), e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ConfigError reports an invalid catalog or role reference detected at boot
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid role catalog: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid role catalog: %d problems: %v", len(e.Problems), e.Problems)
}
