package coroloop

// spawnRequest is the classification object produced by [Yielder.Spawn]:
// register the coroutines runnable without awaiting them.
type spawnRequest struct {
	coros []*Coro
}

// AsCompleted schedules the given coroutines in the background and resolves
// to a slice of placeholder coroutines ([]*Coro) that deliver the originals'
// results in the order they complete: awaiting the first placeholder yields
// the first result to arrive, and so on.
//
//	slots, err := y.Await(coroloop.AsCompleted(a, b, c))
//	for _, slot := range slots.([]*Coro) {
//	    out, err := y.Await(slot)
//	    ...
//	}
func AsCompleted(coros ...*Coro) *Coro {
	return NewCoro(func(y *Yielder) (any, error) {
		n := len(coros)
		outs := make([]any, n)
		events := make([]*Event, n)
		for i := range events {
			events[i] = NewEvent()
		}
		var put int
		wrappers := make([]*Coro, n)
		for i, c := range coros {
			c := c
			wrappers[i] = NewCoro(func(y *Yielder) (any, error) {
				v, err := y.Await(c)
				if err != nil {
					return nil, err
				}
				outs[put] = v
				events[put].Set()
				put++
				return nil, nil
			})
		}
		if err := y.Spawn(wrappers...); err != nil {
			return nil, err
		}
		slots := make([]*Coro, n)
		for i := range slots {
			i := i
			slots[i] = NewCoro(func(y *Yielder) (any, error) {
				if _, err := y.Wait(events[i]); err != nil {
					return nil, err
				}
				return outs[i], nil
			})
		}
		return slots, nil
	})
}
