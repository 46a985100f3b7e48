package sensor

import (
	"context"
	"sync"
)

// Owner serialises access to a State through a single goroutine. Producers
// hand samples over a channel and readers request snapshots the same way, so
// nothing outside Run ever touches the state directly.
//
// Run must be running for ApplySample and Snapshot to make progress. Once Run
// returns, ApplySample drops samples and Snapshot returns the last state seen.
type Owner struct {
	state     *State
	samples   chan Sample
	snapshots chan chan Snapshot
	done      chan struct{}
	stopOnce  sync.Once
}

// NewOwner wraps state. The state must not be used directly afterwards.
func NewOwner(state *State) *Owner {
	return &Owner{
		state:     state,
		samples:   make(chan Sample),
		snapshots: make(chan chan Snapshot),
		done:      make(chan struct{}),
	}
}

// Run serves samples and snapshot requests until ctx is cancelled.
func (o *Owner) Run(ctx context.Context) error {
	defer o.stopOnce.Do(func() { close(o.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample := <-o.samples:
			o.state.ApplySample(sample)
		case reply := <-o.snapshots:
			reply <- o.state.Snapshot()
		}
	}
}

// ApplySample blocks until the owner has accepted the sample. Samples are
// applied in the order ApplySample returns.
func (o *Owner) ApplySample(sample Sample) {
	select {
	case o.samples <- sample:
	case <-o.done:
	}
}

// Snapshot asks the owner for a copy of the state.
func (o *Owner) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case o.snapshots <- reply:
		return <-reply
	case <-o.done:
		return o.state.Snapshot()
	}
}
