package feed

import (
	"encoding/json"
	"testing"
	"time"

	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRow(parts ...string) []json.RawMessage {
	row := make([]json.RawMessage, len(parts))
	for i, p := range parts {
		row[i] = json.RawMessage(p)
	}
	return row
}

func TestParseKlineRow(t *testing.T) {
	row := rawRow(`1709294400000`, `"100.1"`, `"101.2"`, `"99.3"`, `"100.9"`, `"12.5"`)

	c, err := parseKlineRow(row, "BTCUSDT", "1m")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, "1m", c.Period)
	assert.Equal(t, int64(1709294400), c.OpenTime.Unix())
	assert.True(t, c.Open.Equal(decimal.NewFromFloat(100.1)))
	assert.True(t, c.High.Equal(decimal.NewFromFloat(101.2)))
	assert.True(t, c.Low.Equal(decimal.NewFromFloat(99.3)))
	assert.True(t, c.Close.Equal(decimal.NewFromFloat(100.9)))
	assert.True(t, c.Volume.Equal(decimal.NewFromFloat(12.5)))
}

func TestParseKlineRow_Malformed(t *testing.T) {
	_, err := parseKlineRow(rawRow(`1709294400000`, `"100"`), "BTCUSDT", "1m")
	assert.Error(t, err, "too few fields")

	_, err = parseKlineRow(rawRow(`1709294400000`, `"abc"`, `"101"`, `"99"`, `"100"`, `"1"`), "BTCUSDT", "1m")
	assert.Error(t, err, "non-numeric price")

	// High below close fails candle validation.
	_, err = parseKlineRow(rawRow(`1709294400000`, `"100"`, `"90"`, `"89"`, `"100"`, `"1"`), "BTCUSDT", "1m")
	assert.Error(t, err)
}

func TestDedup(t *testing.T) {
	d := newDedup()
	c := parseMust(t, rawRow(`1709294400000`, `"100"`, `"101"`, `"99"`, `"100"`, `"1"`))

	assert.True(t, d.fresh(c))
	assert.False(t, d.fresh(c), "same open time must be rejected")

	c2 := c
	c2.OpenTime = c.OpenTime.Add(time.Minute)
	assert.True(t, d.fresh(c2))
	assert.False(t, d.fresh(c), "older candles stay rejected")
}

func parseMust(t *testing.T, row []json.RawMessage) model.Candle {
	t.Helper()
	parsed, err := parseKlineRow(row, "BTCUSDT", "1m")
	require.NoError(t, err)
	return parsed
}
