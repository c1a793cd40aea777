package exchange_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killswitch_go_1/exchange"
)

func TestAPIClientGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/ticker/price":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			w.Write([]byte(`{"symbol":"BTCUSDT","price":"64250.10"}`))
		case "/fapi/v1/ping":
			w.WriteHeader(http.StatusOK)
		case "/fapi/v1/time":
			w.Write([]byte(`{"serverTime":` + strconv.FormatInt(time.Now().UnixMilli(), 10) + `}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := exchange.NewAPIClient(srv.URL, 5)

	price, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 64250.10, price)

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.SyncTime())
	assert.Less(t, c.TimeOffset(), int64(5000))
}

func TestAPIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	c := exchange.NewAPIClient(srv.URL, 5)
	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestMockClientConnectivityToggle(t *testing.T) {
	m := exchange.NewMockClient(100, 5)

	price, err := m.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100, price, 5.1)

	m.SetConnected(false)
	_, err = m.GetPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
	assert.Error(t, m.Ping(context.Background()))

	m.SetConnected(true)
	m.SetPrice(42)
	price, err = m.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
}
