package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"futures-quotefeed/internal/codec"
	"futures-quotefeed/internal/codec/binance"
	"futures-quotefeed/internal/codec/bitget"
	"futures-quotefeed/internal/codec/bitmex"
	"futures-quotefeed/internal/codec/bybit"
	"futures-quotefeed/internal/codec/coindcx"
	"futures-quotefeed/internal/codec/deribit"
	"futures-quotefeed/internal/codec/gateio"
	"futures-quotefeed/internal/codec/kucoin"
	"futures-quotefeed/internal/codec/mexc"
	"futures-quotefeed/internal/codec/okx"
	"futures-quotefeed/internal/codec/phemex"
	"futures-quotefeed/internal/supervisor"
)

// newCodec builds the wire codec for one venue.
func newCodec(exchange codec.ExchangeID) (codec.Codec, error) {
	switch exchange {
	case codec.Binance:
		return binance.New(), nil
	case codec.Bybit:
		return bybit.New(), nil
	case codec.OKX:
		return okx.New(), nil
	case codec.Deribit:
		return deribit.New(), nil
	case codec.BitMEX:
		return bitmex.New(), nil
	case codec.Phemex:
		return phemex.New(), nil
	case codec.GateIO:
		return gateio.New(), nil
	case codec.KuCoin:
		return kucoin.New(), nil
	case codec.MEXC:
		return mexc.New(), nil
	case codec.Bitget:
		return bitget.New(), nil
	case codec.CoinDCX:
		return coindcx.New(), nil
	default:
		return nil, fmt.Errorf("no codec for exchange %s", exchange)
	}
}

// newTransport builds the transport for one venue.
func newTransport(exchange codec.ExchangeID) (supervisor.Transport, error) {
	switch exchange {
	case codec.Binance:
		return &supervisor.WSTransport{URL: "wss://fstream.binance.com/ws"}, nil
	case codec.Bybit:
		return &supervisor.WSTransport{URL: "wss://stream.bybit.com/v5/public/linear"}, nil
	case codec.OKX:
		return &supervisor.WSTransport{URL: "wss://ws.okx.com:8443/ws/v5/public"}, nil
	case codec.Deribit:
		return &supervisor.WSTransport{URL: "wss://www.deribit.com/ws/api/v2"}, nil
	case codec.BitMEX:
		return &supervisor.WSTransport{URL: "wss://ws.bitmex.com/realtime"}, nil
	case codec.Phemex:
		return &supervisor.WSTransport{URL: "wss://ws.phemex.com"}, nil
	case codec.GateIO:
		return &supervisor.WSTransport{URL: "wss://fx-ws.gateio.ws/v4/ws/usdt"}, nil
	case codec.KuCoin:
		return &kucoinTransport{tokenURL: "https://api.kucoin.com/api/v1/bullet-public"}, nil
	case codec.MEXC:
		return &supervisor.WSTransport{URL: "wss://contract.mexc.com/edge"}, nil
	case codec.Bitget:
		return &supervisor.WSTransport{URL: "wss://ws.bitget.com/v2/ws/public"}, nil
	case codec.CoinDCX:
		return &supervisor.PollTransport{
			URL:      "https://api.coindcx.com/exchange/ticker",
			Interval: 5 * time.Second,
		}, nil
	default:
		return nil, fmt.Errorf("no transport for exchange %s", exchange)
	}
}

// kucoinTransport brokers the websocket endpoint through KuCoin's
// bullet-public token handshake before every dial.
type kucoinTransport struct {
	tokenURL string
}

type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint string `json:"endpoint"`
		} `json:"instanceServers"`
	} `json:"data"`
}

func (t *kucoinTransport) Dial(ctx context.Context) (supervisor.Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kucoin token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kucoin token request: status %d", resp.StatusCode)
	}

	var bullet bulletResponse
	if err := json.NewDecoder(resp.Body).Decode(&bullet); err != nil {
		return nil, fmt.Errorf("kucoin token response: %w", err)
	}
	if bullet.Code != "200000" || len(bullet.Data.InstanceServers) == 0 {
		return nil, fmt.Errorf("kucoin token response: code %s", bullet.Code)
	}

	ws := &supervisor.WSTransport{
		URL: fmt.Sprintf("%s?token=%s",
			bullet.Data.InstanceServers[0].Endpoint, bullet.Data.Token),
	}
	return ws.Dial(ctx)
}
