package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyClose(t *testing.T) {
	tests := []struct {
		code int
		want CloseClass
	}{
		{CloseNotAuthenticated, CloseFatal},
		{CloseAuthenticationFailed, CloseFatal},
		{CloseInvalidShard, CloseFatal},
		{CloseShardingRequired, CloseFatal},
		{CloseInvalidAPIVersion, CloseFatal},
		{CloseInvalidIntents, CloseFatal},
		{CloseDisallowedIntents, CloseFatal},
		{CloseUnknownError, CloseInvalidated},
		{CloseUnknownOpcode, CloseInvalidated},
		{CloseDecodeError, CloseInvalidated},
		{CloseAlreadyAuthenticated, CloseInvalidated},
		{CloseInvalidSequence, CloseInvalidated},
		{CloseRateLimited, CloseInvalidated},
		{CloseSessionTimedOut, CloseInvalidated},
		{4999, CloseInvalidated},
		{1000, CloseResumable},
		{1001, CloseResumable},
		{1006, CloseResumable},
		{CloseServiceRestart, CloseResumable},
		{CloseZombieConnection, CloseResumable},
		{5000, CloseResumable},
		{0, CloseResumable},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyClose(tt.code), "code %d", tt.code)
	}
}

func TestCloseClassString(t *testing.T) {
	assert.Equal(t, "resumable", CloseResumable.String())
	assert.Equal(t, "invalidated", CloseInvalidated.String())
	assert.Equal(t, "fatal", CloseFatal.String())
}
