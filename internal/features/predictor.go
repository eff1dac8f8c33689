package features

import "github.com/rickgao/gem-relay/internal/protocol"

// Signal is a directional prediction.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// DefaultThreshold is the book imbalance beyond which a signal is emitted.
const DefaultThreshold = 0.2

// Predictor is a threshold rule on 5-level book imbalance.
type Predictor struct {
	Threshold float64
}

// NewPredictor returns a predictor, using DefaultThreshold when threshold <= 0.
func NewPredictor(threshold float64) Predictor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Predictor{Threshold: threshold}
}

// Predict returns HOLD when ok is false.
func (p Predictor) Predict(f protocol.Features, ok bool) Signal {
	if !ok {
		return SignalHold
	}
	switch {
	case f.BookImbalance5Levels > p.Threshold:
		return SignalBuy
	case f.BookImbalance5Levels < -p.Threshold:
		return SignalSell
	default:
		return SignalHold
	}
}
