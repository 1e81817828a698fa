package coroloop

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// ErrorDelivery selects how [Loop.Run] surfaces errors after unwinding.
type ErrorDelivery int

const (
	// DeliverSingle (the default) raises just the origin error if every
	// other unit shut down cleanly, and an [AggregateError] if any other
	// unit raised a distinct error during cleanup (the successful
	// cancellations are excluded from the aggregate).
	DeliverSingle ErrorDelivery = iota
	// DeliverGroup always raises an [AggregateError]: the origin first,
	// followed by every error observed whilst cancelling the other units,
	// including the CancelledErrors that indicate successful cancellation.
	DeliverGroup
	// DeliverOrigin raises just the origin error, silently discarding any
	// errors that occur whilst cancelling the other units.
	DeliverOrigin
)

// String returns a human-readable representation of the delivery mode.
func (d ErrorDelivery) String() string {
	switch d {
	case DeliverSingle:
		return "Single"
	case DeliverGroup:
		return "Group"
	case DeliverOrigin:
		return "Origin"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger     *logiface.Logger[logiface.Event]
	delivery   ErrorDelivery
	maxThreads int
}

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger to the loop. The loop logs
// lifecycle transitions at debug level and diagnostics (coroutine reuse,
// improper cancellation responses) at warning level. A nil logger disables
// logging (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithErrorDelivery sets how Run surfaces errors after unwinding.
// See [ErrorDelivery] for the available modes.
func WithErrorDelivery(delivery ErrorDelivery) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		switch delivery {
		case DeliverSingle, DeliverGroup, DeliverOrigin:
			opts.delivery = delivery
			return nil
		default:
			return fmt.Errorf("coroloop: invalid error delivery mode %d", int(delivery))
		}
	}}
}

// WithMaxThreads caps the number of concurrently running thread functions
// dispatched via [RunInThread]. Zero (the default) means unbounded. Tasks
// created on an explicit [ThreadPool] are bounded by their own pool instead.
func WithMaxThreads(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n < 0 {
			return fmt.Errorf("coroloop: WithMaxThreads requires a non-negative count, got %d", n)
		}
		opts.maxThreads = n
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
