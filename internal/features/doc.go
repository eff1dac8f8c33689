// Package features turns a raw exchange feed into market microstructure
// features and a directional signal.
//
// An Extractor keeps an order book and a bounded window of recent trades.
// Apply accepts exchange frames as they arrive; Features computes a snapshot
// on demand. A Predictor maps a snapshot to BUY, SELL or HOLD.
package features
