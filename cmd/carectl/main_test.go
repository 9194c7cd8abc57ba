package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	app := newApp()

	paths := [][]string{
		{"migrate", "up"},
		{"migrate", "status"},
		{"otp", "cleanup"},
		{"admin", "create"},
	}
	for _, path := range paths {
		cmd := app
		for _, name := range path {
			cmd = cmd.Command(name)
			require.NotNil(t, cmd, "missing command %v", path)
		}
		assert.NotNil(t, cmd.Action, "%v has no action", path)
	}
}

// These fail in the Before hook, so no database or configuration is needed.
func TestAdminCreate_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "signup role",
			args: []string{"--email", "c@example.com", "--name", "C", "--password", "SecureP@ss123", "--role", "caregiver"},
			want: "--role must be one of",
		},
		{
			name: "missing password",
			args: []string{"--email", "s@example.com", "--name", "S"},
			want: "a password is required",
		},
		{
			name: "weak password",
			args: []string{"--email", "s@example.com", "--name", "S", "--password", "short"},
			want: "password does not meet requirements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CARECTL_PASSWORD", "")
			args := append([]string{"carectl", "admin", "create"}, tt.args...)

			err := newApp().Run(context.Background(), args)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
