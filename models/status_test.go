package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"www.velocidex.com/golang/memtriage/utils"
)

func TestRunTransitions(t *testing.T) {
	for _, to := range []ResultStatus{
		StatusEmpty, StatusSuccess, StatusUnsatisfied, StatusError} {
		assert.True(t, CanTransition(StatusPending, to), "pending -> %v", to)

		// Terminal states are never advanced by another run.
		for _, from := range []ResultStatus{
			StatusEmpty, StatusSuccess, StatusUnsatisfied, StatusError,
			StatusNotApplicable} {
			assert.False(t, CanTransition(from, to), "%v -> %v", from, to)
		}
	}
}

func TestResubmissionResetsToPending(t *testing.T) {
	for _, from := range []ResultStatus{
		StatusPending, StatusEmpty, StatusSuccess, StatusUnsatisfied,
		StatusError, StatusNotApplicable} {
		assert.True(t, CanTransition(from, StatusPending))
	}
	assert.False(t, CanTransition(ResultStatus(17), StatusPending))
}

func TestNotApplicableIsNeverEntered(t *testing.T) {
	for _, from := range []ResultStatus{
		StatusPending, StatusEmpty, StatusSuccess, StatusError} {
		err := CheckTransition(from, StatusNotApplicable)
		assert.True(t, errors.Is(err, utils.InvalidTransitionErr))
	}
}

func TestStatusPresentation(t *testing.T) {
	assert.Equal(t, "green", StatusEmpty.Color())
	assert.Equal(t, "green", StatusSuccess.Color())
	assert.Equal(t, "orange", StatusUnsatisfied.Color())
	assert.Equal(t, "red", StatusError.Color())
	assert.Equal(t, "Unsatisfied", StatusUnsatisfied.String())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusNotApplicable.IsTerminal())
}
