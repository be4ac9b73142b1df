package ports

import (
	"context"
	"time"
)

// DataValue is one value-changed notification from the live backend.
type DataValue struct {
	NodeID          string
	Value           any
	Quality         uint32
	SourceTimestamp time.Time
}

// Good reports whether the backend flagged the value as usable.
func (d DataValue) Good() bool { return d.Quality == 0 }

// LiveSubscription is the handle returned by LiveClient.Subscribe.
type LiveSubscription interface {
	Cancel(ctx context.Context) error
}

// LiveClient is the contract consumed from the industrial protocol client.
type LiveClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, nodeIDs []string, onValueChanged func(DataValue)) (LiveSubscription, error)
	// OnConnectionStateChanged registers the single connection-state
	// listener; later calls replace earlier ones.
	OnConnectionStateChanged(fn func(connected bool))
}
