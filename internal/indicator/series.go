package indicator

import (
	"math"

	"futures-bot/internal/exchange"
)

// Closes 提取K线收盘价序列，按时间升序排列。
func Closes(candles []exchange.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, candle := range candles {
		closes[i] = candle.Close
	}
	return closes
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
