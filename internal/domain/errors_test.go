package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"marked", MarkTransient(errors.New("503")), true},
		{"wrapped marked", fmt.Errorf("fetch quote: %w", MarkTransient(errors.New("503"))), true},
		{"rate limited", fmt.Errorf("upstream: %w", ErrRateLimited), true},
		{"deadline", context.DeadlineExceeded, true},
		{"net timeout", timeoutErr{}, true},
		{"not found", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestMarkTransient_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := MarkTransient(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, "connection reset", err.Error())
	assert.Nil(t, MarkTransient(nil))
}
