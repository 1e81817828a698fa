package coroloop

// Structured logging helpers. The logger is the nil-safe
// logiface.Logger[logiface.Event]; a nil logger turns every call here into a
// no-op, so the hot path carries no logging configuration of its own.

// warnReuse records that a coroutine completed in a previous invocation was
// awaited again. The await resolves to an absent (nil) value rather than the
// stale result.
func (rs *runState) warnReuse(c *Coro) {
	if b := rs.logger().Warning(); b.Enabled() {
		b.Uint64("coroutine", c.id).
			Str("status", c.status.String()).
			Log("coroutine from a previous invocation awaited again; treating its value as absent")
	}
}

// warnImproperCancel records that a coroutine responded to the injected
// cancellation by returning a value or raising a different error, instead of
// propagating the CancelledError. A resource leak may have occurred.
func (rs *runState) warnImproperCancel(c *Coro, err error) {
	b := rs.logger().Warning()
	if !b.Enabled() {
		return
	}
	b = b.Uint64("coroutine", c.id)
	if err == nil {
		b = b.Str("responded", "returned a value")
	} else {
		b = b.Str("responded", "raised a different error").Err(err)
	}
	b.Log("coroutine did not propagate cancellation; a resource leak may have occurred")
}

func (rs *runState) debugf(msg string) {
	rs.logger().Debug().Uint64("loop", rs.loop.id).Log(msg)
}
