package features

import (
	"testing"

	"github.com/rickgao/gem-relay/internal/protocol"
)

func TestPredictor_Predict(t *testing.T) {
	p := NewPredictor(0)
	if p.Threshold != DefaultThreshold {
		t.Fatalf("Threshold = %v, want %v", p.Threshold, DefaultThreshold)
	}

	tests := []struct {
		name      string
		imbalance float64
		ok        bool
		want      Signal
	}{
		{"strong bids", 0.5, true, SignalBuy},
		{"strong asks", -0.5, true, SignalSell},
		{"balanced", 0.1, true, SignalHold},
		{"at threshold", 0.2, true, SignalHold},
		{"at negative threshold", -0.2, true, SignalHold},
		{"no features", 0.9, false, SignalHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Predict(protocol.Features{BookImbalance5Levels: tt.imbalance}, tt.ok)
			if got != tt.want {
				t.Errorf("Predict(%v, %v) = %s, want %s", tt.imbalance, tt.ok, got, tt.want)
			}
		})
	}
}

func TestPredictor_CustomThreshold(t *testing.T) {
	p := NewPredictor(0.6)
	if got := p.Predict(protocol.Features{BookImbalance5Levels: 0.5}, true); got != SignalHold {
		t.Errorf("Predict(0.5) = %s, want HOLD", got)
	}
	if got := p.Predict(protocol.Features{BookImbalance5Levels: -0.7}, true); got != SignalSell {
		t.Errorf("Predict(-0.7) = %s, want SELL", got)
	}
}
