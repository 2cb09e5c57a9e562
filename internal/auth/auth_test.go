package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/simp/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCheckHeader(t *testing.T) {
	testlog.Start(t)
	v := StaticToken{Token: "s3cret"}
	cases := []struct {
		header string
		ok     bool
	}{
		{header: "Bearer s3cret", ok: true},
		{header: "bearer  s3cret ", ok: true},
		{header: "Bearer wrong"},
		{header: "Basic s3cret"},
		{header: "Bearer"},
		{header: ""},
	}
	for _, tc := range cases {
		err := CheckHeader(v, tc.header)
		if tc.ok && err != nil {
			t.Fatalf("header %q: unexpected error %v", tc.header, err)
		}
		if !tc.ok && !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("header %q: expected ErrUnauthorized, got %v", tc.header, err)
		}
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})
	if err := CheckHeader(validator, "Bearer bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := CheckHeader(validator, "Bearer ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}
