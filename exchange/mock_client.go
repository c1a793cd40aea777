package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
)

//
// Mock client for running and testing the safety loop without a real API
//

// Ensure MockClient implements Client interface
var _ Client = (*MockClient)(nil)

// MockClient simulates a price feed with a sine-wave market and a
// connectivity toggle, so connectivity-loss and staleness scenarios can be
// exercised deterministically.
type MockClient struct {
	mu              sync.RWMutex
	connected       bool
	simInitialPrice float64
	simAmplitude    float64
	simulationTime  float64
	fixedPrice      float64 // when non-zero, overrides the sine wave
}

// NewMockClient creates a connected mock feed around a mid price.
func NewMockClient(initialPrice, amplitude float64) *MockClient {
	return &MockClient{
		connected:       true,
		simInitialPrice: initialPrice,
		simAmplitude:    amplitude,
	}
}

// SetConnected toggles simulated connectivity.
func (m *MockClient) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// SetPrice pins the feed to a fixed price. Zero restores the sine wave.
func (m *MockClient) SetPrice(price float64) {
	m.mu.Lock()
	m.fixedPrice = price
	m.mu.Unlock()
}

func (m *MockClient) GetPrice(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, fmt.Errorf("mock exchange: not connected")
	}
	if m.fixedPrice != 0 {
		return m.fixedPrice, nil
	}
	m.simulationTime += 0.1
	return m.simInitialPrice + m.simAmplitude*math.Sin(m.simulationTime), nil
}

func (m *MockClient) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return fmt.Errorf("mock exchange: not connected")
	}
	return nil
}

func (m *MockClient) SyncTime() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return fmt.Errorf("mock exchange: not connected")
	}
	return nil
}
