// Package config parses and serialises worker request documents. The
// wire format is forgiving: a single "symbol" or a "symbols" array, and
// any unknown root key is treated as a strategy parameter.
package config

import (
	"encoding/json"
	"os"

	"github.com/shopspring/decimal"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/pkg/types"
)

// baseKeys are the root keys with fixed meaning; everything else in a
// request document is a strategy parameter.
var baseKeys = map[string]struct{}{
	"symbols":             {},
	"symbol":              {},
	"start_date":          {},
	"end_date":            {},
	"starting_capital":    {},
	"strategy":            {},
	"cleanup":             {},
	"strategy_parameters": {},
}

// Request is a parsed worker request plus its housekeeping flags.
type Request struct {
	Config  *types.TradingConfig
	Cleanup bool
}

// ParseRequest decodes a request document.
func ParseRequest(raw []byte) (*Request, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, apperr.Wrap(apperr.CodeParsingFailed, "request is not a JSON object", err)
	}

	cfg := &types.TradingConfig{StrategyParams: map[string]any{}}
	req := &Request{Config: cfg}

	if v, ok := root["symbols"]; ok {
		if err := json.Unmarshal(v, &cfg.Symbols); err != nil {
			return nil, apperr.Wrap(apperr.CodeParsingFailed, "bad symbols field", err)
		}
	} else if v, ok := root["symbol"]; ok {
		var symbol string
		if err := json.Unmarshal(v, &symbol); err != nil {
			return nil, apperr.Wrap(apperr.CodeParsingFailed, "bad symbol field", err)
		}
		cfg.Symbols = []string{symbol}
	}

	if err := stringKey(root, "start_date", &cfg.StartDate); err != nil {
		return nil, err
	}
	if err := stringKey(root, "end_date", &cfg.EndDate); err != nil {
		return nil, err
	}
	if err := stringKey(root, "strategy", &cfg.StrategyName); err != nil {
		return nil, err
	}

	if v, ok := root["starting_capital"]; ok {
		if err := json.Unmarshal(v, &cfg.StartingCapital); err != nil {
			return nil, apperr.Wrap(apperr.CodeParsingFailed, "bad starting_capital field", err)
		}
	}
	if v, ok := root["cleanup"]; ok {
		if err := json.Unmarshal(v, &req.Cleanup); err != nil {
			return nil, apperr.Wrap(apperr.CodeParsingFailed, "bad cleanup field", err)
		}
	}
	if v, ok := root["strategy_parameters"]; ok {
		if err := json.Unmarshal(v, &cfg.StrategyParams); err != nil {
			return nil, apperr.Wrap(apperr.CodeParsingFailed, "bad strategy_parameters field", err)
		}
	}

	// Flattened strategy parameters at the root.
	for key, v := range root {
		if _, reserved := baseKeys[key]; reserved {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return nil, apperr.Wrap(apperr.CodeParsingFailed, "bad value for "+key, err)
		}
		cfg.StrategyParams[key] = value
	}

	return req, nil
}

// stringKey decodes an optional string field from the root document.
func stringKey(root map[string]json.RawMessage, key string, dst *string) error {
	v, ok := root[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return apperr.Wrap(apperr.CodeParsingFailed, "bad "+key+" field", err)
	}
	return nil
}

// LoadRequest reads and parses a request file.
func LoadRequest(path string) (*Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeParsingFailed, "cannot read config file", err)
	}
	return ParseRequest(raw)
}

// MarshalRequest serialises a request the way the spawner writes it:
// strategy parameters flattened at the root next to the base keys.
func MarshalRequest(cfg *types.TradingConfig, cleanup bool) ([]byte, error) {
	doc := map[string]any{
		"symbols":          cfg.Symbols,
		"start_date":       cfg.StartDate,
		"end_date":         cfg.EndDate,
		"starting_capital": cfg.StartingCapital,
		"strategy":         cfg.StrategyName,
		"cleanup":          cleanup,
	}
	for key, value := range cfg.StrategyParams {
		if _, reserved := baseKeys[key]; reserved {
			continue
		}
		doc[key] = value
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Validate checks a parsed request for the invariants every entry point
// shares: at least one symbol, positive capital and an ordered date
// range.
func Validate(cfg *types.TradingConfig) error {
	if len(cfg.Symbols) == 0 {
		return apperr.New(apperr.CodeInvalidSymbol, "no symbols given")
	}
	seen := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s == "" {
			return apperr.New(apperr.CodeInvalidSymbol, "empty symbol")
		}
		if _, dup := seen[s]; dup {
			return apperr.Newf(apperr.CodeInvalidSymbol, "duplicate symbol %s", s)
		}
		seen[s] = struct{}{}
	}
	if cfg.StartingCapital.Sign() <= 0 {
		return apperr.Newf(apperr.CodeInvalidCapital, "starting capital must be positive, got %s", cfg.StartingCapital)
	}
	start, err := types.ParseDate(cfg.StartDate)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidDateRange, "bad start date", err)
	}
	end, err := types.ParseDate(cfg.EndDate)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidDateRange, "bad end date", err)
	}
	if end.Before(start) {
		return apperr.Newf(apperr.CodeInvalidDateRange, "end date %s before start date %s", cfg.EndDate, cfg.StartDate)
	}
	return nil
}

// DefaultCapital is used when a request omits starting_capital.
var DefaultCapital = decimal.NewFromInt(10_000)

// ApplyDefaults fills omitted request fields.
func ApplyDefaults(cfg *types.TradingConfig) {
	if cfg.StartingCapital.Sign() == 0 {
		cfg.StartingCapital = DefaultCapital
	}
	if cfg.StrategyName == "" {
		cfg.StrategyName = "ma_crossover"
	}
}
