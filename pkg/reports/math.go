package reports

import (
	"fmt"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/finsight-ai/finsight/pkg/models"
)

// DCFResult is a discounted cash flow projection with a sensitivity grid over
// discount and terminal growth rates.
type DCFResult struct {
	FairValue   float64            `json:"fair_value"`
	Projections []float64          `json:"projections"`
	Sensitivity map[string]float64 `json:"sensitivity"`
}

// DCF projects freeCashFlow for years at growthRate, discounts at
// discountRate, and adds a Gordon terminal value at terminalGrowth. The
// sensitivity grid varies the discount rate ±1% and terminal growth ±0.5%.
func DCF(freeCashFlow, growthRate, discountRate, terminalGrowth float64, years int) *DCFResult {
	if years <= 0 || discountRate <= terminalGrowth {
		return nil
	}

	res := &DCFResult{Sensitivity: map[string]float64{}}
	fcf := freeCashFlow
	for i := 0; i < years; i++ {
		fcf *= 1 + growthRate
		res.Projections = append(res.Projections, fcf)
	}
	res.FairValue = dcfValue(res.Projections, discountRate, terminalGrowth)

	for _, d := range []float64{discountRate - 0.01, discountRate, discountRate + 0.01} {
		for _, g := range []float64{terminalGrowth - 0.005, terminalGrowth, terminalGrowth + 0.005} {
			if d <= g {
				continue
			}
			key := fmt.Sprintf("wacc=%.1f%%/g=%.1f%%", d*100, g*100)
			res.Sensitivity[key] = dcfValue(res.Projections, d, g)
		}
	}
	return res
}

func dcfValue(projections []float64, discountRate, terminalGrowth float64) float64 {
	var value float64
	for i, fcf := range projections {
		value += fcf / pow(1+discountRate, i+1)
	}
	last := projections[len(projections)-1]
	terminal := last * (1 + terminalGrowth) / (discountRate - terminalGrowth)
	value += terminal / pow(1+discountRate, len(projections))
	return value
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// CorrelationMatrix computes the pairwise daily-return correlation of the
// given close series. Series are aligned on their shortest common tail.
// Returns the symbol order and the matrix, or nil when fewer than two series
// have enough data.
func CorrelationMatrix(closes map[string][]float64) ([]string, *mat.SymDense) {
	symbols := make([]string, 0, len(closes))
	minLen := 0
	for sym, series := range closes {
		if len(series) < 3 {
			continue
		}
		symbols = append(symbols, sym)
		if minLen == 0 || len(series) < minLen {
			minLen = len(series)
		}
	}
	if len(symbols) < 2 {
		return nil, nil
	}
	sort.Strings(symbols)

	rows := minLen - 1
	data := mat.NewDense(rows, len(symbols), nil)
	for j, sym := range symbols {
		series := closes[sym]
		tail := series[len(series)-minLen:]
		for i := 1; i < minLen; i++ {
			data.Set(i-1, j, tail[i]/tail[i-1]-1)
		}
	}

	corr := mat.NewSymDense(len(symbols), nil)
	stat.CorrelationMatrix(corr, data, nil)
	return symbols, corr
}

// DividendSafetyResult scores payout sustainability on a 0-100 scale.
type DividendSafetyResult struct {
	Score   float64  `json:"score"`
	Grade   string   `json:"grade"`
	Factors []string `json:"factors"`
}

// DividendSafety scores a dividend from payout ratio, yield, and earnings
// coverage. Missing inputs cost points rather than erroring.
func DividendSafety(payoutRatio, dividendYield, peRatio float64) *DividendSafetyResult {
	res := &DividendSafetyResult{Score: 100}

	switch {
	case payoutRatio <= 0:
		res.Score -= 25
		res.Factors = append(res.Factors, "payout ratio unavailable")
	case payoutRatio > 1.0:
		res.Score -= 40
		res.Factors = append(res.Factors, fmt.Sprintf("payout ratio %.0f%% exceeds earnings", payoutRatio*100))
	case payoutRatio > 0.75:
		res.Score -= 20
		res.Factors = append(res.Factors, fmt.Sprintf("elevated payout ratio %.0f%%", payoutRatio*100))
	default:
		res.Factors = append(res.Factors, fmt.Sprintf("payout ratio %.0f%% leaves coverage headroom", payoutRatio*100))
	}

	switch {
	case dividendYield <= 0:
		res.Score -= 20
		res.Factors = append(res.Factors, "no dividend yield reported")
	case dividendYield > 0.08:
		res.Score -= 25
		res.Factors = append(res.Factors, fmt.Sprintf("yield %.1f%% is in distressed territory", dividendYield*100))
	case dividendYield > 0.05:
		res.Score -= 10
		res.Factors = append(res.Factors, fmt.Sprintf("yield %.1f%% runs hot vs market", dividendYield*100))
	}

	if peRatio <= 0 {
		res.Score -= 15
		res.Factors = append(res.Factors, "negative or missing earnings")
	}

	if res.Score < 0 {
		res.Score = 0
	}
	switch {
	case res.Score >= 80:
		res.Grade = "safe"
	case res.Score >= 55:
		res.Grade = "borderline"
	default:
		res.Grade = "at risk"
	}
	return res
}

// SeasonalityResult aggregates average daily returns by calendar month and
// weekday.
type SeasonalityResult struct {
	ByMonth   map[string]float64 `json:"by_month"`
	ByWeekday map[string]float64 `json:"by_weekday"`
	BestMonth string             `json:"best_month"`
}

// Seasonality buckets candle-to-candle returns by month and weekday.
func Seasonality(candles []models.Candle) *SeasonalityResult {
	if len(candles) < 30 {
		return nil
	}
	monthSum := map[string]float64{}
	monthN := map[string]int{}
	daySum := map[string]float64{}
	dayN := map[string]int{}

	for i := 1; i < len(candles); i++ {
		if candles[i-1].Close == 0 {
			continue
		}
		ret := candles[i].Close/candles[i-1].Close - 1
		day, err := time.Parse("2006-01-02", candles[i].Date)
		if err != nil {
			continue
		}
		month := day.Month().String()
		weekday := day.Weekday().String()
		monthSum[month] += ret
		monthN[month]++
		daySum[weekday] += ret
		dayN[weekday]++
	}

	res := &SeasonalityResult{ByMonth: map[string]float64{}, ByWeekday: map[string]float64{}}
	best, bestVal := "", 0.0
	for m, sum := range monthSum {
		avg := sum / float64(monthN[m])
		res.ByMonth[m] = avg
		if best == "" || avg > bestVal {
			best, bestVal = m, avg
		}
	}
	for d, sum := range daySum {
		res.ByWeekday[d] = sum / float64(dayN[d])
	}
	res.BestMonth = best
	return res
}

// MomentumResult is the indicator battery computed for quant-style reports.
type MomentumResult struct {
	RSI       float64 `json:"rsi"`
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	SMA50     float64 `json:"sma_50"`
	SMA200    float64 `json:"sma_200"`
	LastClose float64 `json:"last_close"`
	Score     float64 `json:"score"` // -1..1 composite
}

// Momentum runs the talib battery over the close series. Requires at least
// 200 closes.
func Momentum(closes []float64) *MomentumResult {
	if len(closes) < 200 {
		return nil
	}

	rsi := talib.Rsi(closes, 14)
	macd, signal, _ := talib.Macd(closes, 12, 26, 9)
	sma50 := talib.Sma(closes, 50)
	sma200 := talib.Sma(closes, 200)

	res := &MomentumResult{
		RSI:       rsi[len(rsi)-1],
		MACD:      macd[len(macd)-1],
		Signal:    signal[len(signal)-1],
		SMA50:     sma50[len(sma50)-1],
		SMA200:    sma200[len(sma200)-1],
		LastClose: closes[len(closes)-1],
	}

	var score float64
	if res.LastClose > res.SMA50 {
		score += 0.35
	} else {
		score -= 0.35
	}
	if res.LastClose > res.SMA200 {
		score += 0.25
	} else {
		score -= 0.25
	}
	if res.MACD > res.Signal {
		score += 0.2
	} else {
		score -= 0.2
	}
	switch {
	case res.RSI > 70:
		score -= 0.2
	case res.RSI < 30:
		score += 0.2
	}
	res.Score = score
	return res
}
