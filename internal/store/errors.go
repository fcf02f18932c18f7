package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFacetPolicyMismatch is returned when writing to a namespace that was
	// created under a different facet policy.
	ErrFacetPolicyMismatch = errors.New("namespace was indexed with a different facet policy")

	// ErrEmbedderMismatch is returned when writing to a namespace whose vectors
	// were produced by a different embedder.
	ErrEmbedderMismatch = errors.New("namespace was indexed with a different embedder")

	// ErrUnknownNamespace is returned by operations that require an existing namespace.
	ErrUnknownNamespace = errors.New("unknown namespace")

	// ErrNoteNotFound is returned when a note id is not known to the note source.
	ErrNoteNotFound = errors.New("note not found")

	// ErrNamespaceCollision is returned when a collection maps to a namespace
	// already owned by a different collection.
	ErrNamespaceCollision = errors.New("namespace belongs to another collection")
)

// CollisionError reports which collection already owns a namespace. It
// matches ErrNamespaceCollision with errors.Is.
type CollisionError struct {
	Namespace  string
	Owner      string
	Collection string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("namespace %q is owned by collection %q, not %q: %v", e.Namespace, e.Owner, e.Collection, ErrNamespaceCollision)
}

func (e *CollisionError) Is(target error) bool { return target == ErrNamespaceCollision }

// ConnectivityError reports that a collaborator could not be reached, timed
// out, or answered with something that is not a valid response.
type ConnectivityError struct {
	Op  string
	Err error
}

// Connectivity wraps err as a ConnectivityError for op. A nil err returns nil.
func Connectivity(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectivityError{Op: op, Err: err}
}

func (e *ConnectivityError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *ConnectivityError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// IsConnectivity reports whether err is or wraps a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
