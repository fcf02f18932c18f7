package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConnectivity(t *testing.T) {
	if Connectivity("op", nil) != nil {
		t.Error("Connectivity(nil) should be nil")
	}

	base := errors.New("connection refused")
	err := Connectivity("list notes", base)
	if !IsConnectivity(err) {
		t.Fatal("expected ConnectivityError")
	}
	if !errors.Is(err, base) {
		t.Error("ConnectivityError should unwrap to the cause")
	}

	wrapped := fmt.Errorf("sync deck: %w", err)
	if !IsConnectivity(wrapped) {
		t.Error("IsConnectivity should see through %w wrapping")
	}

	// Wrapping twice keeps the innermost operation.
	again := Connectivity("outer", wrapped)
	var ce *ConnectivityError
	if !errors.As(again, &ce) || ce.Op != "list notes" {
		t.Errorf("double wrap Op = %v, want list notes", ce)
	}
}

func TestConnectivityError_Timeout(t *testing.T) {
	err := Connectivity("query", fmt.Errorf("call: %w", context.DeadlineExceeded))
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatal("expected ConnectivityError")
	}
	if !ce.Timeout() {
		t.Error("Timeout() = false, want true")
	}

	other := &ConnectivityError{Op: "query", Err: errors.New("refused")}
	if other.Timeout() {
		t.Error("Timeout() = true for a non-timeout error")
	}
}
