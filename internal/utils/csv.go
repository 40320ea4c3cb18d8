package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"fxcockpit/internal/domain"
)

func WriteBarsToCSV(bars []domain.Bar, symbol string, tf domain.Timeframe, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"time", "symbol", "timeframe", "open", "high", "low", "close", "tick_volume"})

	for _, b := range bars {
		writer.Write([]string{
			b.Time.Format(time.RFC3339),
			symbol,
			string(tf),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.TickVolume, 10),
		})
	}
	return writer.Error()
}
