package threadpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateRunsInitHookOnEveryThread(t *testing.T) {
	var inits atomic.Int32
	pool := Create(context.Background(), "test", 2, 1, nil, WithHooks(Hooks{
		Init: func(th *Thread) { inits.Add(1) },
	}))
	defer pool.Close()

	require.EqualValues(t, 3, inits.Load())
}

func TestFindIOThreadRoundRobins(t *testing.T) {
	pool := Create(context.Background(), "test", 2, 0, nil)
	defer pool.Close()

	a := pool.FindIOThread()
	b := pool.FindIOThread()
	c := pool.FindIOThread()
	require.NotEqual(t, a.Name(), b.Name())
	require.Equal(t, a.Name(), c.Name())
}

func TestUserDataRoundTrip(t *testing.T) {
	pool := Create(context.Background(), "test", 1, 0, nil)
	defer pool.Close()

	th := pool.IOThread(0)
	require.Nil(t, th.UserData())

	th.SetUserData("hello")
	require.Equal(t, "hello", th.UserData())
}

func TestQueueCallRunsOnThread(t *testing.T) {
	pool := Create(context.Background(), "test", 1, 0, nil)
	defer pool.Close()

	th := pool.IOThread(0)
	var ran bool
	err := th.Queue.Call(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestCloseRunsCleanupHooks(t *testing.T) {
	var cleanups atomic.Int32
	pool := Create(context.Background(), "test", 1, 1, nil, WithHooks(Hooks{
		Cleanup: func(th *Thread) { cleanups.Add(1) },
	}))

	require.NoError(t, pool.Close())

	deadline := time.After(time.Second)
	for cleanups.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("cleanup hooks never ran")
		default:
		}
	}
}
