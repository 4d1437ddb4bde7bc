package exchange

import (
	"fmt"
	"log"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"github.com/yourusername/candlecore/internal/models"
)

// metadataCache caches exchange metadata to avoid repeated instantiation.
// The core spec is explicit about supporting a single configured exchange
// (Non-goals, §1), so unlike its teacher this package no longer discovers or
// probes the full CCXT exchange catalogue — it resolves metadata for
// exactly the one exchange the service was configured with.
var (
	metadataCache     = make(map[string]*Metadata)
	metadataCacheLock sync.RWMutex
)

// mapExchangeID maps a configured exchange id to its CCXT identifier.
func mapExchangeID(exchangeID string) string {
	mapping := map[string]string{
		"gate": "gateio",
	}
	if ccxtID, ok := mapping[exchangeID]; ok {
		return ccxtID
	}
	return exchangeID
}

// Adapter is the low-level CCXT binding: ascending, chronological OHLCV
// retrieval for one exchange instance. CCXTClient (in client.go) builds the
// spec's newest-first, exclusive-to-bound Fetch contract on top of it.
type Adapter struct {
	exchange   ccxt.IExchange
	exchangeID string
}

// NewAdapter constructs a CCXT exchange instance for exchangeID.
func NewAdapter(exchangeID string, enableRateLimit bool) (*Adapter, error) {
	ccxtExchangeID := mapExchangeID(exchangeID)

	inList := false
	for _, id := range ccxt.Exchanges {
		if id == ccxtExchangeID {
			inList = true
			break
		}
	}
	if !inList {
		return nil, fmt.Errorf("exchange %q is not a known ccxt exchange", exchangeID)
	}

	options := map[string]interface{}{
		"enableRateLimit": enableRateLimit,
		"timeout":         30000,
	}

	inst := ccxt.CreateExchange(ccxtExchangeID, options)
	if inst == nil {
		return nil, fmt.Errorf("failed to create exchange instance for %s", ccxtExchangeID)
	}

	log.Printf("[EXCHANGE] created ccxt adapter for %s", exchangeID)

	return &Adapter{exchange: inst, exchangeID: exchangeID}, nil
}

// LoadMarkets loads the exchange's market metadata, required before the
// first FetchOHLCV call on most CCXT exchanges.
func (a *Adapter) LoadMarkets() error {
	_, err := a.exchange.LoadMarkets()
	return err
}

// FetchOHLCV fetches candles ascending (oldest first), CCXT's native order.
func (a *Adapter) FetchOHLCV(symbol, timeframe string, since *time.Time, limit int) ([]models.Candle, error) {
	var options []ccxt.FetchOHLCVOptions
	options = append(options, ccxt.WithFetchOHLCVTimeframe(timeframe))
	if since != nil {
		options = append(options, ccxt.WithFetchOHLCVSince(since.UnixMilli()))
	}
	if limit > 0 {
		options = append(options, ccxt.WithFetchOHLCVLimit(int64(limit)))
	}

	bars, err := a.exchange.FetchOHLCV(symbol, options...)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv: %w", err)
	}

	candles := make([]models.Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, models.Candle{
			Symbol:      symbol,
			UTCBoundary: time.UnixMilli(bar.Timestamp).UTC(),
			Open:        bar.Open,
			High:        bar.High,
			Low:         bar.Low,
			Close:       bar.Close,
			VolumeBase:  bar.Volume,
			SourceTag:   models.SourceReal,
		})
	}
	return candles, nil
}

func (a *Adapter) GetExchangeID() string { return a.exchangeID }

func (a *Adapter) Close() error {
	if errs := a.exchange.Close(); len(errs) > 0 {
		return fmt.Errorf("errors closing exchange: %v", errs)
	}
	return nil
}

// Metadata describes the operational characteristics of a configured
// exchange relevant to chunked candle retrieval.
type Metadata struct {
	ID         string `json:"id"`
	OHLCVLimit int    `json:"ohlcv_limit"`
}

// GetMetadata fetches (and caches) the OHLCV page-size limit for
// exchangeID, used to keep CHUNK_MAX from exceeding what the exchange will
// actually return in one call.
func GetMetadata(exchangeID string) (*Metadata, error) {
	ccxtExchangeID := mapExchangeID(exchangeID)

	metadataCacheLock.RLock()
	if cached, ok := metadataCache[ccxtExchangeID]; ok {
		metadataCacheLock.RUnlock()
		return cached, nil
	}
	metadataCacheLock.RUnlock()

	options := map[string]interface{}{"enableRateLimit": false, "timeout": 10000}
	inst := ccxt.CreateExchange(ccxtExchangeID, options)
	if inst == nil {
		return nil, fmt.Errorf("failed to create exchange instance for %s", ccxtExchangeID)
	}
	defer inst.Close()

	metadata := &Metadata{ID: ccxtExchangeID, OHLCVLimit: 200}

	features := inst.GetFeatures()
	if spot, ok := features["spot"].(map[string]interface{}); ok {
		if fetchOHLCV, ok := spot["fetchOHLCV"].(map[string]interface{}); ok {
			if limit, ok := fetchOHLCV["limit"].(float64); ok && limit > 0 {
				metadata.OHLCVLimit = int(limit)
			}
		}
	}

	metadataCacheLock.Lock()
	metadataCache[ccxtExchangeID] = metadata
	metadataCacheLock.Unlock()

	return metadata, nil
}
