package store

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"talentfolio/api/internal/engine"
)

func TestIsTransientNetworkErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", &net.OpError{Op: "dial", Err: errors.New("timeout")}, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"pg admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"pg too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"pg constraint violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRemoteErrPreservesClassification(t *testing.T) {
	err := remoteErr(&pgconn.PgError{Code: "08001"})
	if !engine.IsTransient(err) {
		t.Fatal("connection failure should classify as transient")
	}

	err = remoteErr(&pgconn.PgError{Code: "23505"})
	if engine.IsTransient(err) {
		t.Fatal("constraint violation should classify as permanent")
	}
	var re *engine.RemoteError
	if !errors.As(err, &re) {
		t.Fatal("remoteErr should wrap in RemoteError")
	}
}
