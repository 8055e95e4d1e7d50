package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"a", "*"},
		{"abcd", "****"},
		{"abcde", "ab*de"},
		{"s3cr3t-token", "s3********en"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.in))
		})
	}
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l := New(Options{Level: "chatty"})
	assert.NotNil(t, l)
	l.Debug("hidden")
	l.With("component", "test").Info("visible")
}
