package errors

import (
	goerrors "errors"
	"fmt"
	"strings"
	"testing"
)

// TestError_Message validates that messages carry the kind, the operation,
// and the available context.
func TestError_Message(t *testing.T) {
	tests := []struct {
		name    string
		err     *Error
		wantAll []string
	}{
		{
			name:    "kind op and message",
			err:     New(Query, "execute query", "no such table: ghosts"),
			wantAll: []string{"query", "execute query", "no such table: ghosts"},
		},
		{
			name:    "kind op and cause",
			err:     Wrap(Io, "replica load", fmt.Errorf("permission denied")),
			wantAll: []string{"io", "replica load", "permission denied"},
		},
		{
			name:    "kind and op only",
			err:     &Error{Kind: ConnectionClosed, Op: "query"},
			wantAll: []string{"connection closed", "query"},
		},
		{
			name: "message and cause together",
			err: &Error{
				Kind:    Sync,
				Op:      "connect sync source",
				Message: "nats unreachable",
				Err:     fmt.Errorf("dial tcp: refused"),
			},
			wantAll: []string{"sync", "connect sync source", "nats unreachable", "refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.wantAll {
				if !strings.Contains(got, want) {
					t.Errorf("Error() missing expected substring:\ngot:  %q\nwant: %q", got, want)
				}
			}
		})
	}
}

// TestError_Unwrap validates error chain inspection with the standard
// library.
func TestError_Unwrap(t *testing.T) {
	underlying := fmt.Errorf("connection refused")
	err := Wrap(Transport, "dial server", underlying)

	if err.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlying)
	}
	if !goerrors.Is(err, underlying) {
		t.Error("errors.Is(err, underlying) = false, want true")
	}
}

// TestIs_Classification validates kind classification through wrapping.
func TestIs_Classification(t *testing.T) {
	err := New(Timeout, "execute query", "deadline exceeded")

	if !Is(err, Timeout) {
		t.Error("Is(err, Timeout) = false, want true")
	}
	if Is(err, Transport) {
		t.Error("Is(err, Transport) = true, want false")
	}
	if Is(nil, Timeout) {
		t.Error("Is(nil, Timeout) = true, want false")
	}
	if Is(fmt.Errorf("plain"), Timeout) {
		t.Error("Is(plain error, Timeout) = true, want false")
	}

	// A wrapped Error keeps its kind visible through outer layers.
	outer := fmt.Errorf("operation failed: %w", err)
	if !Is(outer, Timeout) {
		t.Error("kind lost through fmt.Errorf wrapping")
	}
}

// TestWrap_PreservesKind validates that layering operation context onto an
// existing Error never reclassifies it.
func TestWrap_PreservesKind(t *testing.T) {
	inner := New(Sqlite, "replica query", "no such table")
	outer := Wrap(Query, "run statement", inner)

	if outer.Kind != Sqlite {
		t.Errorf("outer kind = %v, want Sqlite (inner kind preserved)", outer.Kind)
	}
	if KindOf(outer) != Sqlite {
		t.Errorf("KindOf = %v, want Sqlite", KindOf(outer))
	}
}

// TestKind_String validates that every kind has a stable name.
func TestKind_String(t *testing.T) {
	kinds := []Kind{
		Transport, Status, Sqlite, Io, UrlParse, Sync,
		Query, ConnectionClosed, InvalidParameter, Timeout, TypeConversion,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "" || s == "unknown" {
			t.Errorf("kind %d has no name", k)
		}
		if seen[s] {
			t.Errorf("kind name %q duplicated", s)
		}
		seen[s] = true
	}
	if Kind(0).String() != "unknown" {
		t.Errorf("zero kind = %q, want unknown", Kind(0).String())
	}
}
