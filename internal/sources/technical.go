package sources

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// Candle is one daily bar.
type Candle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Amount float64 `json:"amount"`
}

type klineResponse struct {
	Code  string   `json:"code"`
	Items []Candle `json:"items"`
}

// Indicators are the technical readings derived from daily candles.
// Pointer fields are nil when there is not enough history.
type Indicators struct {
	Close        float64
	MA5          *float64
	MA10         *float64
	MA20         *float64
	MA60         *float64
	RSI14        *float64
	MACD         *float64
	MACDSignal   *float64
	MACDHist     *float64
	BollUpper    *float64
	BollLower    *float64
	Volatility   *float64 // annualised, from daily log returns
	VolumeRatio  *float64 // last volume / 20-day mean volume
	CandlesCount int
}

// TechnicalFetcher fetches daily candles and computes indicators.
type TechnicalFetcher struct {
	client *Client
	limit  int
}

// NewTechnicalFetcher creates a TechnicalFetcher reading the last 120 candles.
func NewTechnicalFetcher(client *Client) *TechnicalFetcher {
	return &TechnicalFetcher{client: client, limit: 120}
}

// Fetch implements domain.Fetcher.
func (f *TechnicalFetcher) Fetch(ctx context.Context, securityID string) (domain.Document, error) {
	var resp klineResponse
	query := url.Values{
		"period": []string{"day"},
		"limit":  []string{strconv.Itoa(f.limit)},
	}
	if err := f.client.getJSON(ctx, "/api/kline/"+url.PathEscape(securityID), query, &resp); err != nil {
		return domain.Document{}, fmt.Errorf("kline %s: %w", securityID, err)
	}
	if len(resp.Items) == 0 {
		return domain.Document{}, fmt.Errorf("kline %s: no candles returned", securityID)
	}

	ind := ComputeIndicators(resp.Items)

	return domain.Document{
		Source: NameTechnical,
		Fields: map[string]any{
			"close":   ind.Close,
			"candles": ind.CandlesCount,
			"rsi14":   deref(ind.RSI14),
			"macd":    deref(ind.MACD),
		},
		Text:      ind.Summary(),
		FetchedAt: f.client.now(),
	}, nil
}

// ComputeIndicators derives moving averages, RSI, MACD, Bollinger bands and volatility.
func ComputeIndicators(candles []Candle) Indicators {
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	ind := Indicators{
		Close:        closes[len(closes)-1],
		CandlesCount: len(closes),
		MA5:          lastSMA(closes, 5),
		MA10:         lastSMA(closes, 10),
		MA20:         lastSMA(closes, 20),
		MA60:         lastSMA(closes, 60),
	}

	if len(closes) > 14 {
		ind.RSI14 = lastValid(talib.Rsi(closes, 14))
	}
	if len(closes) >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		ind.MACD = lastValid(macd)
		ind.MACDSignal = lastValid(signal)
		ind.MACDHist = lastValid(hist)
	}
	if len(closes) >= 20 {
		upper, _, lower := talib.BBands(closes, 20, 2, 2, 0)
		ind.BollUpper = lastValid(upper)
		ind.BollLower = lastValid(lower)
	}

	if len(closes) >= 3 {
		returns := make([]float64, 0, len(closes)-1)
		for i := 1; i < len(closes); i++ {
			if closes[i-1] > 0 && closes[i] > 0 {
				returns = append(returns, math.Log(closes[i]/closes[i-1]))
			}
		}
		if len(returns) >= 2 {
			v := stat.StdDev(returns, nil) * math.Sqrt(252)
			ind.Volatility = &v
		}
	}

	if len(volumes) >= 20 {
		mean := stat.Mean(volumes[len(volumes)-20:], nil)
		if mean > 0 {
			r := volumes[len(volumes)-1] / mean
			ind.VolumeRatio = &r
		}
	}

	return ind
}

// Summary renders the indicators for the prompt.
func (ind Indicators) Summary() string {
	parts := []string{fmt.Sprintf("收盘 %.2f (共 %d 根日K)", ind.Close, ind.CandlesCount)}

	add := func(label string, v *float64, format string) {
		if v != nil {
			parts = append(parts, label+" "+fmt.Sprintf(format, *v))
		}
	}
	add("MA5", ind.MA5, "%.2f")
	add("MA10", ind.MA10, "%.2f")
	add("MA20", ind.MA20, "%.2f")
	add("MA60", ind.MA60, "%.2f")
	add("RSI14", ind.RSI14, "%.1f")
	add("MACD", ind.MACD, "%.3f")
	add("MACD信号", ind.MACDSignal, "%.3f")
	add("MACD柱", ind.MACDHist, "%.3f")
	add("布林上轨", ind.BollUpper, "%.2f")
	add("布林下轨", ind.BollLower, "%.2f")
	if ind.Volatility != nil {
		parts = append(parts, fmt.Sprintf("年化波动率 %.1f%%", *ind.Volatility*100))
	}
	add("量比", ind.VolumeRatio, "%.2f")

	return strings.Join(parts, "，")
}

func lastSMA(values []float64, period int) *float64 {
	if len(values) < period {
		return nil
	}
	return lastValid(talib.Sma(values, period))
}

func lastValid(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
