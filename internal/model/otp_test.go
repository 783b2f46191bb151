package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTPVerifyResultKeepsZeroAttemptsRemaining(t *testing.T) {
	raw, err := json.Marshal(OTPVerifyResult{Outcome: OTPOutcomeInvalid, AttemptsRemaining: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"outcome":"INVALID_OTP","attempts_remaining":0}`, string(raw))
}
