package fatguard_test

import (
	"errors"
	"testing"

	"github.com/embedfat/fatguard"
	"github.com/stretchr/testify/assert"
)

func TestDiskoErrorWithMessage(t *testing.T) {
	newErr := fatguard.ErrBlockDeviceRequired.WithMessage("asdfqwerty")
	assert.Equal(
		t, "block device required: asdfqwerty", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, fatguard.ErrBlockDeviceRequired)
}

func TestDiskoErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := fatguard.ErrExists.Wrap(originalErr)
	expectedMessage := "file exists: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, fatguard.ErrExists, "sentinel error not set as parent")
}
