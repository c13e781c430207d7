package data

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/store"
	"github.com/meridianquant/backtester/pkg/types"
)

// Alternative field names accepted on raw rows, first match wins.
var (
	dateKeys   = []string{"time", "date"}
	openKeys   = []string{"open", "open_price"}
	highKeys   = []string{"high", "high_price"}
	lowKeys    = []string{"low", "low_price"}
	closeKeys  = []string{"close", "close_price"}
	volumeKeys = []string{"volume", "vol"}
)

// ConvertRows converts raw rows into typed bars. Rows missing a
// required field are skipped silently; a field that is present but
// unparsable fails the whole conversion.
func (p *Processor) ConvertRows(rows []store.RawRow) ([]types.PriceBar, error) {
	out := make([]types.PriceBar, 0, len(rows))
	for _, row := range rows {
		bar, ok, err := convertRow(row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

func convertRow(row store.RawRow) (types.PriceBar, bool, error) {
	date, ok, err := stringField(row, dateKeys)
	if !ok || err != nil {
		return types.PriceBar{}, false, err
	}
	open, ok, err := decimalField(row, openKeys)
	if !ok || err != nil {
		return types.PriceBar{}, false, err
	}
	high, ok, err := decimalField(row, highKeys)
	if !ok || err != nil {
		return types.PriceBar{}, false, err
	}
	low, ok, err := decimalField(row, lowKeys)
	if !ok || err != nil {
		return types.PriceBar{}, false, err
	}
	close, ok, err := decimalField(row, closeKeys)
	if !ok || err != nil {
		return types.PriceBar{}, false, err
	}
	volume, ok, err := intField(row, volumeKeys)
	if !ok || err != nil {
		return types.PriceBar{}, false, err
	}
	return types.PriceBar{
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}, true, nil
}

func lookup(row store.RawRow, keys []string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return k, v, true
		}
	}
	return "", nil, false
}

func stringField(row store.RawRow, keys []string) (string, bool, error) {
	key, v, ok := lookup(row, keys)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, apperr.Newf(apperr.CodeParsingFailed, "field %q is not a string", key)
	}
	// Timestamps may carry a time component; the day part is enough.
	if len(s) > len(types.DateLayout) {
		s = s[:len(types.DateLayout)]
	}
	if _, err := types.ParseDate(s); err != nil {
		return "", false, apperr.Wrap(apperr.CodeParsingFailed, "field "+strconv.Quote(key), err)
	}
	return s, true, nil
}

func decimalField(row store.RawRow, keys []string) (decimal.Decimal, bool, error) {
	key, v, ok := lookup(row, keys)
	if !ok {
		return decimal.Zero, false, nil
	}
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true, nil
	case float64:
		return decimal.NewFromFloat(n), true, nil
	case int:
		return decimal.NewFromInt(int64(n)), true, nil
	case int64:
		return decimal.NewFromInt(n), true, nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false, apperr.Wrap(apperr.CodeParsingFailed, "field "+strconv.Quote(key), err)
		}
		return d, true, nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false, apperr.Wrap(apperr.CodeParsingFailed, "field "+strconv.Quote(key), err)
		}
		return d, true, nil
	default:
		return decimal.Zero, false, apperr.Newf(apperr.CodeParsingFailed, "field %q has unsupported type %T", key, v)
	}
}

func intField(row store.RawRow, keys []string) (int64, bool, error) {
	key, v, ok := lookup(row, keys)
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int64:
		return n, true, nil
	case int:
		return int64(n), true, nil
	case float64:
		return int64(n), true, nil
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, false, apperr.Wrap(apperr.CodeParsingFailed, "field "+strconv.Quote(key), err)
		}
		return parsed, true, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false, apperr.Wrap(apperr.CodeParsingFailed, "field "+strconv.Quote(key), err)
		}
		return parsed, true, nil
	default:
		return 0, false, apperr.Newf(apperr.CodeParsingFailed, "field %q has unsupported type %T", key, v)
	}
}
