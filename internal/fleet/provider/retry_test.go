package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return NewProviderError("test", "create", "flaky", ErrTemporaryFailure, true)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	permanent := NewProviderError("test", "create", "quota", ErrQuotaExceeded, false)

	err := WithRetry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return NewProviderError("test", "create", "flaky", ErrTemporaryFailure, true)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemporaryFailure)
	assert.Equal(t, 3, calls)
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Minute}, func() error {
		return NewProviderError("test", "create", "flaky", ErrTemporaryFailure, true)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("hetzner")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	reg.Register(&fakeProvider{name: "hetzner"})
	reg.Register(&fakeProvider{name: "vultr"})

	p, err := reg.Get("vultr")
	require.NoError(t, err)
	assert.Equal(t, "vultr", p.Name())

	assert.Equal(t, []string{"hetzner", "vultr"}, reg.Names())
}

type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateInstance(context.Context, CreateRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) GetInstanceStatus(context.Context, string) (Instance, error) {
	return Instance{}, errors.New("not implemented")
}

func (f *fakeProvider) DestroyInstance(context.Context, string) error {
	return errors.New("not implemented")
}
