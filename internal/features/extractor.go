package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/gem-relay/internal/protocol"
)

// Errors
var (
	ErrUnknownAction = errors.New("unknown book action")
)

// Exchange channels understood by Apply.
const (
	ChannelBooks = "books"
	ChannelTrade = "trade"
)

// Book actions.
const (
	ActionSnapshot = "snapshot"
	ActionUpdate   = "update"
)

// DefaultTradeWindow is the number of recent trades kept for trade imbalance.
const DefaultTradeWindow = 100

// bookLevels is the depth used for book imbalance.
const bookLevels = 5

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Level is one price level.
type Level struct {
	Price float64
	Size  float64
}

// Trade is one public trade.
type Trade struct {
	Timestamp int64 // Exchange milliseconds
	Price     float64
	Size      float64
	Side      Side
}

// BookData is the payload of a books frame.
type BookData struct {
	Asks      []Level
	Bids      []Level
	Timestamp int64
}

// Extractor holds the order book and trade window. Safe for concurrent use.
type Extractor struct {
	mu          sync.Mutex
	bids        map[float64]float64
	asks        map[float64]float64
	trades      []Trade
	window      int
	lastBookTs  *int64
	lastTradeTs *int64
}

// NewExtractor creates an extractor keeping the last window trades.
func NewExtractor(window int) *Extractor {
	if window < 1 {
		window = DefaultTradeWindow
	}
	return &Extractor{
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
		trades: make([]Trade, 0, window),
		window: window,
	}
}

// envelope is the outer shape of an exchange push frame.
type envelope struct {
	Action string `json:"action"`
	Arg    struct {
		InstType string `json:"instType"`
		Channel  string `json:"channel"`
		InstID   string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type rawBook struct {
	Asks [][]flexFloat `json:"asks"`
	Bids [][]flexFloat `json:"bids"`
	Ts   flexFloat     `json:"ts"`
}

// Apply feeds one raw exchange frame into the extractor. It reports whether
// the frame changed state; frames for other channels, subscription acks and
// anything without data are ignored.
func (e *Extractor) Apply(frame []byte) (bool, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return false, fmt.Errorf("decode frame: %w", err)
	}
	if len(env.Data) == 0 || env.Action == "" {
		return false, nil
	}

	switch env.Arg.Channel {
	case ChannelBooks:
		var books []rawBook
		if err := json.Unmarshal(env.Data, &books); err != nil {
			return false, fmt.Errorf("decode books: %w", err)
		}
		if len(books) == 0 {
			return false, nil
		}
		b := books[0]
		data := BookData{
			Asks:      toLevels(b.Asks),
			Bids:      toLevels(b.Bids),
			Timestamp: int64(b.Ts),
		}
		if err := e.UpdateBook(env.Action, data); err != nil {
			return false, err
		}
		return true, nil

	case ChannelTrade:
		var rows [][]flexValue
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return false, fmt.Errorf("decode trades: %w", err)
		}
		trades := make([]Trade, 0, len(rows))
		for _, row := range rows {
			if len(row) < 4 {
				continue
			}
			trades = append(trades, Trade{
				Timestamp: int64(row[0].num),
				Price:     row[1].num,
				Size:      row[2].num,
				Side:      Side(row[3].str),
			})
		}
		if len(trades) == 0 {
			return false, nil
		}
		e.AddTrades(trades)
		return true, nil

	default:
		return false, nil
	}
}

// UpdateBook applies a snapshot or incremental update. A snapshot replaces
// the book; in an update a zero size removes the level.
func (e *Extractor) UpdateBook(action string, data BookData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch action {
	case ActionSnapshot:
		e.bids = make(map[float64]float64, len(data.Bids))
		e.asks = make(map[float64]float64, len(data.Asks))
		for _, l := range data.Bids {
			e.bids[l.Price] = l.Size
		}
		for _, l := range data.Asks {
			e.asks[l.Price] = l.Size
		}
	case ActionUpdate:
		applyLevels(e.bids, data.Bids)
		applyLevels(e.asks, data.Asks)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	ts := data.Timestamp
	e.lastBookTs = &ts
	return nil
}

// AddTrades appends trades to the window, evicting the oldest beyond its size.
func (e *Extractor) AddTrades(trades []Trade) {
	if len(trades) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.trades = append(e.trades, trades...)
	if over := len(e.trades) - e.window; over > 0 {
		e.trades = slices.Delete(e.trades, 0, over)
	}

	ts := trades[len(trades)-1].Timestamp
	e.lastTradeTs = &ts
}

// Features computes a snapshot stamped with now. ok is false until both
// sides of the book have at least one level.
func (e *Extractor) Features(now time.Time) (protocol.Features, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.bids) == 0 || len(e.asks) == 0 {
		return protocol.Features{}, false
	}

	bids := sortedLevels(e.bids, true)
	asks := sortedLevels(e.asks, false)

	bestBid, bestAsk := bids[0], asks[0]
	mid := (bestAsk.Price + bestBid.Price) / 2

	wap := mid
	if depth := bestBid.Size + bestAsk.Size; depth > 0 {
		wap = (bestBid.Price*bestAsk.Size + bestAsk.Price*bestBid.Size) / depth
	}

	f := protocol.Features{
		Timestamp:            float64(now.UnixNano()) / float64(time.Second),
		BestBid:              bestBid.Price,
		BestAsk:              bestAsk.Price,
		Spread:               bestAsk.Price - bestBid.Price,
		MidPrice:             mid,
		WAP:                  wap,
		BookImbalance5Levels: imbalance(depth(bids, bookLevels), depth(asks, bookLevels)),
		TradeImbalance:       e.tradeImbalance(),
	}
	if e.lastBookTs != nil {
		ts := *e.lastBookTs
		f.LastBookUpdateTs = &ts
	}
	if e.lastTradeTs != nil {
		ts := *e.lastTradeTs
		f.LastTradeTs = &ts
	}
	return f, true
}

// Reset clears all state, used when the feed reconnects.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bids = make(map[float64]float64)
	e.asks = make(map[float64]float64)
	e.trades = e.trades[:0]
	e.lastBookTs = nil
	e.lastTradeTs = nil
}

func (e *Extractor) tradeImbalance() float64 {
	var buy, sell float64
	for _, t := range e.trades {
		switch t.Side {
		case SideBuy:
			buy += t.Size
		case SideSell:
			sell += t.Size
		}
	}
	return imbalance(buy, sell)
}

func applyLevels(book map[float64]float64, levels []Level) {
	for _, l := range levels {
		if l.Size == 0 {
			delete(book, l.Price)
			continue
		}
		book[l.Price] = l.Size
	}
}

func sortedLevels(book map[float64]float64, descending bool) []Level {
	levels := make([]Level, 0, len(book))
	for price, size := range book {
		levels = append(levels, Level{Price: price, Size: size})
	}
	slices.SortFunc(levels, func(a, b Level) int {
		if descending {
			a, b = b, a
		}
		switch {
		case a.Price < b.Price:
			return -1
		case a.Price > b.Price:
			return 1
		}
		return 0
	})
	return levels
}

func depth(levels []Level, n int) float64 {
	var total float64
	for i := 0; i < n && i < len(levels); i++ {
		total += levels[i].Size
	}
	return total
}

// imbalance is (a-b)/(a+b), or 0 when there is no volume.
func imbalance(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return (a - b) / (a + b)
}

func toLevels(rows [][]flexFloat) []Level {
	levels := make([]Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		levels = append(levels, Level{Price: float64(row[0]), Size: float64(row[1])})
	}
	return levels
}

// flexFloat decodes a number sent either as a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var v flexValue
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexFloat(v.num)
	return nil
}

// flexValue keeps both the string form and, when numeric, the parsed value.
type flexValue struct {
	str string
	num float64
}

func (v *flexValue) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &v.str); err != nil {
			return err
		}
		if n, err := strconv.ParseFloat(v.str, 64); err == nil {
			v.num = n
		}
		return nil
	}
	if err := json.Unmarshal(b, &v.num); err != nil {
		return err
	}
	v.str = string(b)
	return nil
}
