package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	runErr error
	calls  atomic.Int32
}

func (f *fakeClient) RunCommand(context.Context, string) (string, error) {
	f.calls.Add(1)
	return "ok", f.runErr
}

func TestPoolReusesConnections(t *testing.T) {
	pool := NewPool("root", "key", testLogger(), time.Minute)

	var dials atomic.Int32
	pool.newClient = func(host, user, privateKey string) (Client, error) {
		dials.Add(1)
		assert.Equal(t, "root", user)
		return &fakeClient{}, nil
	}

	_, err := pool.Run(context.Background(), "203.0.113.10", "echo a")
	require.NoError(t, err)
	_, err = pool.Run(context.Background(), "203.0.113.10", "echo b")
	require.NoError(t, err)

	assert.Equal(t, int32(1), dials.Load(), "second command reuses the pooled connection")
}

func TestPoolConcurrentGetConnection(t *testing.T) {
	pool := NewPool("root", "key", testLogger(), time.Minute)

	var dials atomic.Int32
	pool.newClient = func(host, user, privateKey string) (Client, error) {
		dials.Add(1)
		return &fakeClient{}, nil
	}

	// hammer the same host from many goroutines; lastUsed refreshes must
	// not race the lookups
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := pool.GetConnection("203.0.113.10")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load(), "all goroutines share one connection")
}

func TestPoolDropsConnectionOnRetryableFailure(t *testing.T) {
	pool := NewPool("root", "key", testLogger(), time.Minute)

	var dials atomic.Int32
	pool.newClient = func(host, user, privateKey string) (Client, error) {
		if dials.Add(1) == 1 {
			return &fakeClient{runErr: errors.New("connection reset by peer")}, nil
		}
		return &fakeClient{}, nil
	}

	out, err := pool.Run(context.Background(), "203.0.113.10", "echo a")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), dials.Load(), "stale connection replaced after failure")
}

func TestPoolGivesUpOnPermanentFailure(t *testing.T) {
	pool := NewPool("root", "key", testLogger(), time.Minute)
	pool.newClient = func(host, user, privateKey string) (Client, error) {
		return &fakeClient{runErr: errors.New("exit status 127")}, nil
	}

	_, err := pool.Run(context.Background(), "203.0.113.10", "bogus")
	require.Error(t, err)
}

func TestIsRetryableSSHError(t *testing.T) {
	assert.True(t, isRetryableSSHError(errors.New("dial tcp: i/o timeout")))
	assert.True(t, isRetryableSSHError(errors.New("ssh: handshake failed: EOF")))
	assert.False(t, isRetryableSSHError(errors.New("exit status 1")))
	assert.False(t, isRetryableSSHError(nil))
}

func TestCleanupIdleConnections(t *testing.T) {
	pool := NewPool("root", "key", testLogger(), time.Nanosecond)
	pool.newClient = func(host, user, privateKey string) (Client, error) {
		return &fakeClient{}, nil
	}

	_, err := pool.GetConnection("203.0.113.10")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	pool.CleanupIdleConnections()

	pool.mutex.RLock()
	defer pool.mutex.RUnlock()
	assert.Empty(t, pool.connections)
}
