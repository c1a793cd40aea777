// metrics/tracker.go
package metrics

import (
	"math"
	"sync"
	"time"
)

// Fill is one reported execution from the protected trading system. The
// tracker only needs direction, price and quantity; order routing details
// stay on the trading side.
type Fill struct {
	Side      string // "BUY" or "SELL"
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// Tracker turns reported fills and mark prices into the named risk metrics
// the threshold triggers compare against: daily_pnl, realized_pnl,
// unrealized_pnl, position_quantity and (when a starting equity is set)
// drawdown_percent. Positions use the weighted average cost method; short
// positions carry a negative quantity.
type Tracker struct {
	mu sync.Mutex

	quantity   float64
	avgCost    float64
	realized   float64
	unrealized float64
	markPrice  float64

	startingEquity float64
	peakEquity     float64

	day           string
	dailyBaseline float64
}

// NewTracker creates an empty tracker with no position.
func NewTracker() *Tracker {
	return &Tracker{day: time.Now().Format("2006-01-02")}
}

// SetStartingEquity sets the capital base used for drawdown accounting.
// Without it the drawdown_percent metric is not reported.
func (t *Tracker) SetStartingEquity(equity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startingEquity = equity
	t.peakEquity = equity + t.realized + t.unrealized
}

// RecordFill applies one execution to the position. Closing fills realize
// profit against the weighted average cost; a fill that flips the position's
// direction re-bases the average cost at the fill price.
func (t *Tracker) RecordFill(fill Fill) {
	t.mu.Lock()
	defer t.mu.Unlock()

	isBuy := fill.Side == "BUY"
	signedQty := fill.Quantity
	if !isBuy {
		signedQty = -fill.Quantity
	}

	closing := (t.quantity > 0 && !isBuy) || (t.quantity < 0 && isBuy)
	if closing {
		closedQty := math.Min(math.Abs(t.quantity), fill.Quantity)
		if isBuy {
			t.realized += (t.avgCost - fill.Price) * closedQty
		} else {
			t.realized += (fill.Price - t.avgCost) * closedQty
		}
	}

	prevQty := t.quantity
	t.quantity += signedQty
	switch {
	case !closing && t.quantity != 0:
		// Same-direction add: fold the fill into the weighted average.
		prevValue := t.avgCost * math.Abs(prevQty)
		t.avgCost = (prevValue + fill.Price*fill.Quantity) / math.Abs(t.quantity)
	case prevQty*t.quantity < 0:
		// Direction flipped; the surviving position was opened at this fill.
		t.avgCost = fill.Price
	case t.quantity == 0:
		t.avgCost = 0
	}
	t.refreshLocked()
}

// RecordPNL books a profit or loss that has no fill attached, such as a
// funding fee or a settlement adjustment.
func (t *Tracker) RecordPNL(pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.realized += pnl
	t.refreshLocked()
}

// MarkPrice revalues the open position at the latest market price.
func (t *Tracker) MarkPrice(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markPrice = price
	t.refreshLocked()
}

// Restore rehydrates the realized total from persisted accounting state.
func (t *Tracker) Restore(realized float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.realized = realized
	t.refreshLocked()
}

// Snapshot reports the current metric values by name. The daily_pnl baseline
// rolls over when the calendar day changes between snapshots.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if today != t.day {
		t.day = today
		t.dailyBaseline = t.realized + t.unrealized
	}

	total := t.realized + t.unrealized
	out := map[string]float64{
		"daily_pnl":         total - t.dailyBaseline,
		"realized_pnl":      t.realized,
		"unrealized_pnl":    t.unrealized,
		"position_quantity": t.quantity,
	}
	if t.avgCost != 0 {
		out["average_entry_price"] = t.avgCost
	}
	if t.startingEquity > 0 && t.peakEquity > 0 {
		equity := t.startingEquity + total
		out["drawdown_percent"] = (t.peakEquity - equity) / t.peakEquity * 100
	}
	return out
}

// RealizedPNL returns the cumulative realized total.
func (t *Tracker) RealizedPNL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realized
}

func (t *Tracker) refreshLocked() {
	if t.quantity == 0 || t.markPrice == 0 {
		t.unrealized = 0
	} else if t.quantity > 0 {
		t.unrealized = (t.markPrice - t.avgCost) * t.quantity
	} else {
		t.unrealized = (t.avgCost - t.markPrice) * math.Abs(t.quantity)
	}
	if t.startingEquity > 0 {
		if equity := t.startingEquity + t.realized + t.unrealized; equity > t.peakEquity {
			t.peakEquity = equity
		}
	}
}
