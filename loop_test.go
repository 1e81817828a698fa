package coroloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustRun drives root on a fresh loop and requires success.
func mustRun(t *testing.T, root *Coro, opts ...LoopOption) any {
	t.Helper()
	loop, err := New(opts...)
	require.NoError(t, err)
	v, err := loop.Run(context.Background(), root)
	require.NoError(t, err)
	return v
}

func TestRun_RootNeverYields(t *testing.T) {
	root := NewCoro(func(y *Yielder) (any, error) {
		return 42, nil
	})
	v := mustRun(t, root)
	assert.Equal(t, 42, v)
	assert.Equal(t, StatusDone, root.Status())
}

func TestRun_NilRoot(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	_, err = loop.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilRoot)
}

func TestRun_CooperativeYield(t *testing.T) {
	var steps int
	root := NewCoro(func(y *Yielder) (any, error) {
		for i := 0; i < 5; i++ {
			if err := y.Yield(); err != nil {
				return nil, err
			}
			steps++
		}
		return steps, nil
	})
	v := mustRun(t, root)
	assert.Equal(t, 5, v)
}

func TestRun_AwaitSingle(t *testing.T) {
	child := NewCoro(func(y *Yielder) (any, error) {
		return "hello", nil
	})
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Await(child)
	})
	v := mustRun(t, root)
	assert.Equal(t, "hello", v)
}

func TestRun_AwaitCompletedChildPromptly(t *testing.T) {
	child := NewCoro(func(y *Yielder) (any, error) {
		return 7, nil
	})
	root := NewCoro(func(y *Yielder) (any, error) {
		first, err := y.Await(child)
		if err != nil {
			return nil, err
		}
		// Second await of the same (now completed) coroutine delivers the
		// recorded result without re-running the body.
		second, err := y.Await(child)
		if err != nil {
			return nil, err
		}
		return []any{first, second}, nil
	})
	v := mustRun(t, root)
	assert.Equal(t, []any{7, 7}, v)
}

// addOne yields a sleep then returns x+1, per the gather scenario.
func addOne(x int, d time.Duration) *Coro {
	return NewCoro(func(y *Yielder) (any, error) {
		if err := y.Sleep(d); err != nil {
			return nil, err
		}
		return x + 1, nil
	})
}

func TestRun_GatherAddOne(t *testing.T) {
	root := NewCoro(func(y *Yielder) (any, error) {
		out, err := y.Gather(addOne(3, 100*time.Millisecond), addOne(4, 100*time.Millisecond))
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	start := time.Now()
	v := mustRun(t, root)
	elapsed := time.Since(start)
	assert.Equal(t, []any{4, 5}, v)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond, "children must sleep concurrently, not sequentially")
}

func TestRun_GatherEmpty(t *testing.T) {
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Gather()
	})
	v := mustRun(t, root)
	assert.Equal(t, []any{}, v)
}

func TestRun_GatherDuplicateEntries(t *testing.T) {
	var runs int
	child := NewCoro(func(y *Yielder) (any, error) {
		runs++
		if err := y.Yield(); err != nil {
			return nil, err
		}
		return "once", nil
	})
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Gather(child, child)
	})
	v := mustRun(t, root)
	assert.Equal(t, []any{"once", "once"}, v)
	assert.Equal(t, 1, runs, "a duplicated coroutine must run exactly once")
}

func TestRun_DiamondDependency(t *testing.T) {
	var runs int
	grandchild := NewCoro(func(y *Yielder) (any, error) {
		runs++
		if err := y.Yield(); err != nil {
			return nil, err
		}
		return "v", nil
	})
	mid := func() *Coro {
		return NewCoro(func(y *Yielder) (any, error) {
			return y.Gather(grandchild)
		})
	}
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Gather(mid(), mid())
	})
	v := mustRun(t, root)
	assert.Equal(t, []any{[]any{"v"}, []any{"v"}}, v)
	assert.Equal(t, 1, runs)
}

func TestRun_GatherDeliversPositionalOrder(t *testing.T) {
	slow := NewCoro(func(y *Yielder) (any, error) {
		if err := y.Sleep(120 * time.Millisecond); err != nil {
			return nil, err
		}
		return "slow", nil
	})
	fast := NewCoro(func(y *Yielder) (any, error) {
		return "fast", nil
	})
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Gather(slow, fast)
	})
	v := mustRun(t, root)
	assert.Equal(t, []any{"slow", "fast"}, v, "results must be positional regardless of completion order")
}

func TestRun_FIFOResumptionOrder(t *testing.T) {
	var order []int
	mk := func(i int) *Coro {
		return NewCoro(func(y *Yielder) (any, error) {
			order = append(order, i)
			return nil, nil
		})
	}
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Gather(mk(0), mk(1), mk(2), mk(3))
	})
	mustRun(t, root)
	assert.Equal(t, []int{0, 1, 2, 3}, order, "equal-readiness ties break on submission order")
}

func TestRun_BadYield(t *testing.T) {
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Await(42)
	})
	loop, err := New()
	require.NoError(t, err)
	_, err = loop.Run(context.Background(), root)
	var bad *BadYieldError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, 42, bad.Value)
	assert.Equal(t, StatusFailed, root.Status())
}

func TestRun_BadYieldInList(t *testing.T) {
	root := NewCoro(func(y *Yielder) (any, error) {
		return y.Gather(NewCoro(func(y *Yielder) (any, error) { return 1, nil }), "nope")
	})
	loop, err := New()
	require.NoError(t, err)
	_, err = loop.Run(context.Background(), root)
	var bad *BadYieldError
	assert.ErrorAs(t, err, &bad)
}

func TestRun_NestedLoop(t *testing.T) {
	root := NewCoro(func(y *Yielder) (any, error) {
		inner, err := New()
		if err != nil {
			return nil, err
		}
		v, err := inner.Run(context.Background(), NewCoro(func(y *Yielder) (any, error) {
			if err := y.Sleep(10 * time.Millisecond); err != nil {
				return nil, err
			}
			return "inner", nil
		}))
		if err != nil {
			return nil, err
		}
		outer, err := y.Await(NewCoro(func(y *Yielder) (any, error) { return "outer", nil }))
		if err != nil {
			return nil, err
		}
		return []any{v, outer}, nil
	})
	v := mustRun(t, root)
	assert.Equal(t, []any{"inner", "outer"}, v)
}

func TestRun_RootReuseAcrossInvocations(t *testing.T) {
	root := NewCoro(func(y *Yielder) (any, error) {
		return 1, nil
	})
	loop, err := New()
	require.NoError(t, err)
	v, err := loop.Run(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// A completed coroutine submitted to a second invocation is treated as
	// having returned an absent value.
	v, err = loop.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRun_ReusedChildResolvesAbsent(t *testing.T) {
	child := NewCoro(func(y *Yielder) (any, error) {
		return "first", nil
	})
	loop, err := New()
	require.NoError(t, err)
	v, err := loop.Run(context.Background(), NewCoro(func(y *Yielder) (any, error) {
		return y.Await(child)
	}))
	require.NoError(t, err)
	require.Equal(t, "first", v)

	v, err = loop.Run(context.Background(), NewCoro(func(y *Yielder) (any, error) {
		return y.Await(child)
	}))
	require.NoError(t, err)
	assert.Nil(t, v, "a coroutine completed in a previous invocation resolves to an absent value")
}

func TestRun_CycleDetected(t *testing.T) {
	var a, b *Coro
	a = NewCoro(func(y *Yielder) (any, error) {
		return y.Await(b)
	})
	b = NewCoro(func(y *Yielder) (any, error) {
		return y.Await(a)
	})
	loop, err := New()
	require.NoError(t, err)
	_, err = loop.Run(context.Background(), a)
	assert.ErrorIs(t, err, ErrCycle)
	assert.Equal(t, StatusFailed, a.Status())
	assert.Equal(t, StatusCancelled, b.Status())
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	root := NewCoro(func(y *Yielder) (any, error) {
		return nil, y.Sleep(10 * time.Second)
	})
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	loop, err := New()
	require.NoError(t, err)
	start := time.Now()
	_, err = loop.Run(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusCancelled, root.Status())
}

func TestRun_SpawnJoinsBackgroundWork(t *testing.T) {
	var done bool
	child := NewCoro(func(y *Yielder) (any, error) {
		if err := y.Sleep(100 * time.Millisecond); err != nil {
			return nil, err
		}
		done = true
		return nil, nil
	})
	root := NewCoro(func(y *Yielder) (any, error) {
		if err := y.Spawn(child); err != nil {
			return nil, err
		}
		return "root", nil
	})
	start := time.Now()
	v := mustRun(t, root)
	assert.Equal(t, "root", v)
	assert.True(t, done, "the loop must not return before spawned coroutines complete")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRun_EveryCoroutineTerminalAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	sibling := NewCoro(func(y *Yielder) (any, error) {
		return nil, y.Sleep(10 * time.Second)
	})
	unstarted := NewCoro(func(y *Yielder) (any, error) {
		t.Error("unstarted coroutine must never run")
		return nil, nil
	})
	failing := NewCoro(func(y *Yielder) (any, error) {
		if err := y.Yield(); err != nil {
			return nil, err
		}
		return nil, boom
	})
	root := NewCoro(func(y *Yielder) (any, error) {
		// The gather schedules sibling and failing; unstarted is only awaited
		// after a long sleep that the failure cancels, so it is never
		// registered and never runs.
		if err := y.Spawn(NewCoro(func(y *Yielder) (any, error) {
			if err := y.Sleep(5 * time.Second); err != nil {
				return nil, err
			}
			return y.Await(unstarted)
		})); err != nil {
			return nil, err
		}
		return y.Gather(sibling, failing)
	})
	loop, err := New()
	require.NoError(t, err)
	_, err = loop.Run(context.Background(), root)
	require.ErrorIs(t, err, boom)
	for _, c := range []*Coro{root, sibling, failing} {
		assert.True(t, c.Status().Terminal(), "status %v not terminal", c.Status())
	}
	assert.Equal(t, StatusFailed, failing.Status())
	assert.Equal(t, StatusCancelled, sibling.Status())
	assert.Equal(t, StatusCancelled, root.Status())
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithMaxThreads(-1))
	assert.Error(t, err)
	_, err = New(WithErrorDelivery(ErrorDelivery(99)))
	assert.Error(t, err)
	loop, err := New(nil, WithErrorDelivery(DeliverGroup))
	require.NoError(t, err)
	require.NotNil(t, loop)
}
