package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPhone(t *testing.T) {
	cases := map[string]string{
		"3001234567":      "3001234567",
		"+573001234567":   "3001234567",
		"573001234567":    "3001234567",
		"300 123 4567":    "3001234567",
		"(300) 123-4567":  "3001234567",
		"not-a-number":    "not-a-number",
		"480-555-0100":    "480-555-0100",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanPhone(in), "input %q", in)
	}
}

func TestValidatePhone(t *testing.T) {
	assert.NoError(t, ValidatePhone("3001234567"))
	assert.NoError(t, ValidatePhone("+57 300 123 4567"))
	assert.Error(t, ValidatePhone(""))
	assert.Error(t, ValidatePhone("2001234567"))
	assert.Error(t, ValidatePhone("30012345"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("Ana"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("A"))
	long := make([]byte, 51)
	for i := range long {
		long[i] = 'x'
	}
	assert.Error(t, ValidateName(string(long)))
}

func TestValidateLocation(t *testing.T) {
	assert.NoError(t, ValidateLocation("Calle 10 #4-32"))
	assert.Error(t, ValidateLocation("abc"))
	assert.Error(t, ValidateLocation("   "))
}

func TestValidatePlate(t *testing.T) {
	assert.NoError(t, ValidatePlate("ABC123"))
	assert.NoError(t, ValidatePlate("abc12d"))
	assert.Error(t, ValidatePlate("AB1234"))
	assert.Error(t, ValidatePlate(""))
}

func TestAcceptRejectCommands(t *testing.T) {
	for _, cmd := range []string{"1", "ACCEPT", " take ", "Yes", "ok", "mine"} {
		assert.True(t, IsAcceptCommand(cmd), "command %q", cmd)
	}
	assert.False(t, IsAcceptCommand("11"))
	assert.False(t, IsAcceptCommand("accept the ride"))
	assert.True(t, IsRejectCommand("busy"))
	assert.False(t, IsRejectCommand("1"))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusAssigned))
	assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusAssigned.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusAssigned.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusAssigned))
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusAssigned.Terminal())
}

func TestValidationErrorDetection(t *testing.T) {
	err := ValidateName("")
	assert.True(t, IsValidation(err))
	assert.False(t, IsValidation(ErrNotFound))
}
