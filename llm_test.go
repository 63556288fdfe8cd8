package main

import (
	"context"
	"fmt"
	"testing"
)

func TestIsAuthBillingError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("authentication_error: invalid x-api-key"), true},
		{fmt.Errorf("your credit balance is too low"), true},
		{fmt.Errorf("status 401 Unauthorized"), true},
		{fmt.Errorf("insufficient_quota: please check billing"), true},
		{fmt.Errorf("rate limit exceeded, retry after 20s"), false},
		{fmt.Errorf("connection timed out"), false},
	}
	for _, tc := range cases {
		if got := isAuthBillingError(tc.err); got != tc.want {
			t.Fatalf("isAuthBillingError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestBackendSet_PermanentFailover(t *testing.T) {
	primary := &fakeBackend{respond: func(int, string, string) (string, error) {
		return "", fmt.Errorf("authentication_error: invalid x-api-key")
	}}
	secondary := &fakeBackend{respond: func(int, string, string) (string, error) {
		return "ok", nil
	}}
	set := NewBackendSet(primary, secondary)

	text, _, err := set.Generate(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("expected failover to secondary, got error: %v", err)
	}
	if text != "ok" {
		t.Fatalf("expected secondary response, got %q", text)
	}
	if primary.callCount() != 1 {
		t.Fatalf("expected 1 primary call, got %d", primary.callCount())
	}

	// Subsequent calls skip the primary entirely.
	if _, _, err := set.Generate(context.Background(), "sys", "user"); err != nil {
		t.Fatalf("unexpected error after failover: %v", err)
	}
	if primary.callCount() != 1 {
		t.Fatalf("failover must be permanent, primary called %d times", primary.callCount())
	}
	if secondary.callCount() != 2 {
		t.Fatalf("expected 2 secondary calls, got %d", secondary.callCount())
	}
}

func TestBackendSet_TransientErrorDoesNotFailOver(t *testing.T) {
	primary := &fakeBackend{respond: func(int, string, string) (string, error) {
		return "", fmt.Errorf("rate limit exceeded")
	}}
	secondary := &fakeBackend{respond: func(int, string, string) (string, error) {
		return "ok", nil
	}}
	set := NewBackendSet(primary, secondary)

	if _, _, err := set.Generate(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected transient error to surface")
	}
	if secondary.callCount() != 0 {
		t.Fatalf("transient error must not reach secondary, got %d calls", secondary.callCount())
	}
}

func TestBackendSet_NoSecondary(t *testing.T) {
	primary := &fakeBackend{respond: func(int, string, string) (string, error) {
		return "", fmt.Errorf("authentication_error")
	}}
	set := NewBackendSet(primary, nil)

	if _, _, err := set.Generate(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected error when no secondary exists")
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
