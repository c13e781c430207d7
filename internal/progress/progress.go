// Package progress emits throttled progress documents while a
// simulation runs. Reporting is best-effort; a sink failure never
// interrupts the loop.
package progress

import (
	"encoding/json"
	"io"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Event is one progress document, emitted as a single JSON line.
type Event struct {
	Type         string  `json:"type"`
	ProgressPct  float64 `json:"progress_pct"`
	CurrentDate  string  `json:"current_date"`
	CurrentValue float64 `json:"current_value"`
	CurrentPrice float64 `json:"current_price"`
	Day          int     `json:"day"`
	TotalDays    int     `json:"total_days"`
}

// Sink receives progress events.
type Sink interface {
	Emit(Event) error
}

// DefaultInterval divides the run into this many progress emissions.
const DefaultInterval = 20

// Reporter throttles and forwards progress events. It stays disabled
// until a sink is attached.
type Reporter struct {
	logger   *zap.Logger
	sink     Sink
	interval int
}

// NewReporter creates a disabled reporter with the default interval.
func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger, interval: DefaultInterval}
}

// Attach enables reporting through the given sink.
func (r *Reporter) Attach(sink Sink) { r.sink = sink }

// SetInterval overrides the emission interval. Non-positive values are
// ignored.
func (r *Reporter) SetInterval(interval int) {
	if interval > 0 {
		r.interval = interval
	}
}

// Report emits a progress event if the step lands on a throttle
// boundary. Invalid inputs and sink errors are logged and swallowed.
func (r *Reporter) Report(step, total int, date, symbol string, price, portfolioValue decimal.Decimal) {
	if r.sink == nil {
		return
	}
	if total <= 0 || step >= total || symbol == "" || date == "" {
		r.logger.Debug("progress report dropped",
			zap.Int("step", step),
			zap.Int("total", total),
			zap.String("symbol", symbol),
			zap.String("date", date))
		return
	}
	if !r.shouldEmit(step, total) {
		return
	}
	event := Event{
		Type:         "progress",
		ProgressPct:  float64(step+1) / float64(total) * 100,
		CurrentDate:  date,
		CurrentValue: portfolioValue.InexactFloat64(),
		CurrentPrice: price.InexactFloat64(),
		Day:          step + 1,
		TotalDays:    total,
	}
	if err := r.sink.Emit(event); err != nil {
		r.logger.Warn("progress emission failed", zap.Error(err))
	}
}

// shouldEmit gates on every total/interval steps, the last step, or
// every step for short runs.
func (r *Reporter) shouldEmit(step, total int) bool {
	if total <= r.interval {
		return true
	}
	if step == total-1 {
		return true
	}
	stride := total / r.interval
	return step%stride == 0
}

// JSONSink writes one JSON document per line, matching the worker's
// stderr protocol.
type JSONSink struct {
	w io.Writer
}

// NewJSONSink creates a line-delimited JSON sink.
func NewJSONSink(w io.Writer) *JSONSink { return &JSONSink{w: w} }

func (s *JSONSink) Emit(e Event) error {
	enc := json.NewEncoder(s.w)
	return enc.Encode(e)
}
