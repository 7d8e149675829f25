// Package ta provides the pure technical-analysis functions used by the
// technical_analysis agent. Every function operates on a chronological slice
// of closes (oldest first) and returns an error rather than a partial result
// when the series is too short.
package ta

import (
	"fmt"
)

// SMA returns the simple moving average of the last period closes.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("sma: period must be positive, got %d", period)
	}
	if len(closes) < period {
		return 0, fmt.Errorf("sma: need %d closes, have %d", period, len(closes))
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), nil
}

// EMA returns the exponential moving average series. The first value is the
// SMA of the first period closes; subsequent values use the standard
// smoothing factor 2/(period+1).
func EMA(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema: period must be positive, got %d", period)
	}
	if len(closes) < period {
		return nil, fmt.Errorf("ema: need %d closes, have %d", period, len(closes))
	}

	seed := 0.0
	for _, c := range closes[:period] {
		seed += c
	}
	seed /= float64(period)

	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, seed)
	prev := seed
	for _, c := range closes[period:] {
		prev = (c-prev)*k + prev
		out = append(out, prev)
	}
	return out, nil
}

// RSI returns the latest relative strength index using Wilder's smoothing.
// When the average loss over the window is zero the result is 100.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("rsi: period must be positive, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("rsi: need %d closes, have %d", period+1, len(closes))
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// MACDResult carries the latest MACD line, signal line, and histogram values.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes the 12/26 MACD line with a 9-period signal and returns the
// latest values of each.
func MACD(closes []float64) (*MACDResult, error) {
	ema12, err := EMA(closes, 12)
	if err != nil {
		return nil, fmt.Errorf("macd: %w", err)
	}
	ema26, err := EMA(closes, 26)
	if err != nil {
		return nil, fmt.Errorf("macd: %w", err)
	}

	// Align the two series on their tails: both end at the latest close.
	n := len(ema26)
	ema12 = ema12[len(ema12)-n:]
	macdLine := make([]float64, n)
	for i := range macdLine {
		macdLine[i] = ema12[i] - ema26[i]
	}

	signal, err := EMA(macdLine, 9)
	if err != nil {
		return nil, fmt.Errorf("macd signal: %w", err)
	}

	latestMACD := macdLine[len(macdLine)-1]
	latestSignal := signal[len(signal)-1]
	return &MACDResult{
		MACD:      latestMACD,
		Signal:    latestSignal,
		Histogram: latestMACD - latestSignal,
	}, nil
}

// SupportResistance returns the min and max close of the last window values.
func SupportResistance(closes []float64, window int) (support, resistance float64, err error) {
	if window <= 0 {
		return 0, 0, fmt.Errorf("support/resistance: window must be positive, got %d", window)
	}
	if len(closes) < window {
		return 0, 0, fmt.Errorf("support/resistance: need %d closes, have %d", window, len(closes))
	}
	tail := closes[len(closes)-window:]
	support, resistance = tail[0], tail[0]
	for _, c := range tail[1:] {
		if c < support {
			support = c
		}
		if c > resistance {
			resistance = c
		}
	}
	return support, resistance, nil
}

// Snapshot is the composite technical read on one symbol.
type Snapshot struct {
	Symbol     string      `json:"symbol"`
	Close      float64     `json:"close"`
	SMA20      float64     `json:"sma_20"`
	SMA50      float64     `json:"sma_50"`
	SMA200     float64     `json:"sma_200"`
	RSI14      float64     `json:"rsi_14"`
	MACD       *MACDResult `json:"macd"`
	Support    float64     `json:"support"`
	Resistance float64     `json:"resistance"`
	Trend      string      `json:"trend"` // bullish or bearish
}

// minSnapshotCloses is set by the longest moving average in the snapshot.
const minSnapshotCloses = 200

// ComputeSnapshot builds the composite snapshot. It requires at least 200
// closes so every indicator is computable.
func ComputeSnapshot(symbol string, closes []float64) (*Snapshot, error) {
	if len(closes) < minSnapshotCloses {
		return nil, fmt.Errorf("snapshot for %s: need %d closes, have %d", symbol, minSnapshotCloses, len(closes))
	}

	sma20, err := SMA(closes, 20)
	if err != nil {
		return nil, err
	}
	sma50, err := SMA(closes, 50)
	if err != nil {
		return nil, err
	}
	sma200, err := SMA(closes, 200)
	if err != nil {
		return nil, err
	}
	rsi, err := RSI(closes, 14)
	if err != nil {
		return nil, err
	}
	macd, err := MACD(closes)
	if err != nil {
		return nil, err
	}
	support, resistance, err := SupportResistance(closes, 20)
	if err != nil {
		return nil, err
	}

	last := closes[len(closes)-1]
	trend := "bearish"
	if last > sma50 {
		trend = "bullish"
	}

	return &Snapshot{
		Symbol:     symbol,
		Close:      last,
		SMA20:      sma20,
		SMA50:      sma50,
		SMA200:     sma200,
		RSI14:      rsi,
		MACD:       macd,
		Support:    support,
		Resistance: resistance,
		Trend:      trend,
	}, nil
}
