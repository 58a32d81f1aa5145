package config

import (
	"os"
	"path/filepath"
	"testing"

	"futures-quotefeed/internal/codec"
	"futures-quotefeed/internal/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "instruments.csv", `exchange,symbol
binance,btcusdt
deribit, BTCUSDT
bitmex,BTCUSDT
`)
	inst, err := Load(path)
	require.NoError(t, err)
	assert.False(t, inst.Mapped)
	require.Len(t, inst.Mappings, 3)

	assert.Equal(t, router.Mapping{
		Exchange: codec.Binance, DisplaySymbol: "BTCUSDT", NativeTicker: "BTCUSDT",
	}, inst.Mappings[0])
	assert.Equal(t, "BTC-PERPETUAL", inst.Mappings[1].NativeTicker)
	assert.Equal(t, "XBTUSD", inst.Mappings[2].NativeTicker)
}

func TestLoadCSVRequiresHeader(t *testing.T) {
	path := writeFile(t, "instruments.csv", `binance,BTCUSDT
bybit,BTCUSDT
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header")
}

func TestLoadPlainJSON(t *testing.T) {
	path := writeFile(t, "instruments.json", `[
		{"exchange":"kucoin","symbol":"BTCUSDT"},
		{"exchange":"gateio","symbol":"ethusdt"}
	]`)
	inst, err := Load(path)
	require.NoError(t, err)
	assert.False(t, inst.Mapped)
	require.Len(t, inst.Mappings, 2)
	assert.Equal(t, "BTCUSDTM", inst.Mappings[0].NativeTicker)
	assert.Equal(t, "ETH_USDT", inst.Mappings[1].NativeTicker)
}

func TestLoadExtendedJSONSetsMapped(t *testing.T) {
	path := writeFile(t, "instruments.json", `[
		{"exchange":"deribit","display_symbol":"btcusdt","ticker":"BTC-PERPETUAL"},
		{"exchange":"binance","symbol":"ETHUSDT"}
	]`)
	inst, err := Load(path)
	require.NoError(t, err)
	assert.True(t, inst.Mapped, "one explicit ticker switches the file into mapped mode")
	require.Len(t, inst.Mappings, 2)
	assert.Equal(t, "BTCUSDT", inst.Mappings[0].DisplaySymbol)
	assert.Equal(t, "BTC-PERPETUAL", inst.Mappings[0].NativeTicker)
}

func TestLoadSkipsUnsupportedExchanges(t *testing.T) {
	path := writeFile(t, "instruments.json", `[
		{"exchange":"ftx","symbol":"BTCUSDT"},
		{"exchange":"binance","symbol":"BTCUSDT"},
		{"exchange":"","symbol":"BTCUSDT"},
		{"exchange":"bybit"}
	]`)
	inst, err := Load(path)
	require.NoError(t, err)
	require.Len(t, inst.Mappings, 1)
	assert.Equal(t, codec.Binance, inst.Mappings[0].Exchange)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "broken.json", `{not json`))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "empty.json", `[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable instrument entries")

	_, err = Load(writeFile(t, "all-unknown.json", `[{"exchange":"ftx","symbol":"BTCUSDT"}]`))
	assert.Error(t, err)
}

func TestGetenv(t *testing.T) {
	t.Setenv("QF_TEST_KEY", "set")
	assert.Equal(t, "set", Getenv("QF_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", Getenv("QF_TEST_KEY_MISSING", "fallback"))
}
