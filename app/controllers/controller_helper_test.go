package controllers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	now := time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)
	formatted := formatTimePtr(&now)
	assert.IsType(t, "", formatted)

	expected := now.UTC().Format(time.RFC3339)
	assert.Equal(t, expected, formatted)
}

func TestValidateStruct(t *testing.T) {
	fields := validateStruct(signupRequest{Name: "A", Email: "nope", Password: "short"})
	assert.Equal(t, "name must be at least 2 characters", fields["name"])
	assert.Equal(t, "invalid email address", fields["email"])
	assert.Equal(t, "password must be at least 8 characters", fields["password"])

	assert.Nil(t, validateStruct(signupRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"}))
}
