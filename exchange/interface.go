package exchange

import "context"

// Client is the thin feed surface the safety loop needs: a price for
// staleness tracking, a connectivity probe, and server-time synchronization.
// Order placement deliberately lives behind the execution gate, not here.
type Client interface {
	// GetPrice returns the latest market price for the symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// Ping probes exchange connectivity.
	Ping(ctx context.Context) error

	// SyncTime aligns the client's clock offset with the exchange.
	SyncTime() error
}
