package cliexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conductorctl/conductor/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeEchoesStdin(t *testing.T) {
	inv := New()
	res, err := inv.Invoke(context.Background(), "cat", nil, "hello world", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestInvokeCLINotFound(t *testing.T) {
	inv := New()
	_, err := inv.Invoke(context.Background(), "definitely-not-a-real-binary-xyz", nil, "", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCLINotFound))
}

func TestInvokeTimeout(t *testing.T) {
	inv := New()
	res, err := inv.Invoke(context.Background(), "sleep", []string{"5"}, "", 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTimeout))
	assert.Empty(t, res.Stdout)
}

func TestInvokeNonZeroExit(t *testing.T) {
	inv := New()
	_, err := inv.Invoke(context.Background(), "false", nil, "", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCLIFailed))
}

func TestComplexityScoreMonotonic(t *testing.T) {
	low := ComplexityScore("short prompt")
	high := ComplexityScore("analyze and test and verify " + string(make([]byte, 5000)))
	assert.GreaterOrEqual(t, high, low)
	assert.GreaterOrEqual(t, low, 1)
	assert.LessOrEqual(t, high, 10)
}

func TestAdaptiveTimeoutBounds(t *testing.T) {
	base := 60 * time.Second
	assert.Equal(t, base, AdaptiveTimeout(base, 1))
	assert.Equal(t, 3*base, AdaptiveTimeout(base, 10))
	mid := AdaptiveTimeout(base, 5)
	assert.Greater(t, mid, base)
	assert.Less(t, mid, 3*base)
}
