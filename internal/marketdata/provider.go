// Package marketdata загружает свечи инструмента для источника market_data.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDataUnavailable — провайдер не смог отдать свечи.
var ErrDataUnavailable = errors.New("market data unavailable")

// Candle — одна OHLCV свеча.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Provider загружает последние n свечей инструмента.
type Provider interface {
	FetchCandles(ctx context.Context, instrument, timeframe string, n int) ([]Candle, error)
}

// FormatCandles превращает свечи в текстовую таблицу для prompt.
func FormatCandles(instrument, timeframe string, candles []Candle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s, last %d candles (UTC)\n", instrument, timeframe, len(candles))
	b.WriteString("time,open,high,low,close,volume\n")
	for _, c := range candles {
		b.WriteString(c.OpenTime.UTC().Format("2006-01-02 15:04"))
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
			b.WriteByte(',')
			b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
