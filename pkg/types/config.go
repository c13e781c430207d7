// Package types provides configuration types for the backtesting kernel.
package types

import (
	"github.com/shopspring/decimal"
)

// TradingConfig describes one simulation request. Symbols is ordered,
// non-empty and unique; StartDate <= EndDate.
type TradingConfig struct {
	Symbols         []string        `json:"symbols"`
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	StartingCapital decimal.Decimal `json:"starting_capital"`
	StrategyName    string          `json:"strategy"`
	StrategyParams  map[string]any  `json:"strategy_parameters,omitempty"`
}

// Clone returns a deep copy of the config.
func (c *TradingConfig) Clone() *TradingConfig {
	out := &TradingConfig{
		Symbols:         append([]string(nil), c.Symbols...),
		StartDate:       c.StartDate,
		EndDate:         c.EndDate,
		StartingCapital: c.StartingCapital,
		StrategyName:    c.StrategyName,
	}
	if c.StrategyParams != nil {
		out.StrategyParams = make(map[string]any, len(c.StrategyParams))
		for k, v := range c.StrategyParams {
			out.StrategyParams[k] = v
		}
	}
	return out
}

// AllocationStrategy selects the target-weight computation.
type AllocationStrategy string

const (
	AllocEqualWeight        AllocationStrategy = "equal_weight"
	AllocVolatilityAdjusted AllocationStrategy = "volatility_adjusted"
	AllocMomentumBased      AllocationStrategy = "momentum_based"
	AllocRiskParity         AllocationStrategy = "risk_parity"
	AllocCustom             AllocationStrategy = "custom"
)

// AllocationConfig parameterises the portfolio allocator.
type AllocationConfig struct {
	Strategy             AllocationStrategy `json:"strategy"`
	CustomWeights        map[string]float64 `json:"custom_weights,omitempty"`
	MaxPositionWeight    float64            `json:"max_position_weight"`
	MinPositionWeight    float64            `json:"min_position_weight"`
	EnableRebalancing    bool               `json:"enable_rebalancing"`
	RebalancingThreshold float64            `json:"rebalancing_threshold"`
	RebalancingFreqDays  int                `json:"rebalancing_frequency_days"`
	CashReservePct       float64            `json:"cash_reserve_pct"`
}

// DefaultAllocationConfig returns the conventional equal-weight setup.
func DefaultAllocationConfig() AllocationConfig {
	return AllocationConfig{
		Strategy:             AllocEqualWeight,
		MaxPositionWeight:    0.30,
		MinPositionWeight:    0.05,
		EnableRebalancing:    true,
		RebalancingThreshold: 0.05,
		RebalancingFreqDays:  30,
		CashReservePct:       0.05,
	}
}

// AllocationResult is the output of one allocation computation.
// Invariant: target weights sum to 1 within 0.01 after constraint
// enforcement, and target values plus reserved cash equal total capital.
type AllocationResult struct {
	TargetWeights         map[string]float64         `json:"target_weights"`
	TargetValues          map[string]decimal.Decimal `json:"target_values"`
	TargetShares          map[string]int64           `json:"target_shares"`
	TotalAllocatedCapital decimal.Decimal            `json:"total_allocated_capital"`
	CashReserved          decimal.Decimal            `json:"cash_reserved"`
	RebalancingNeeded     bool                       `json:"rebalancing_needed"`
	ExcludedSymbols       []string                   `json:"excluded_symbols,omitempty"`
	AllocationReason      string                     `json:"allocation_reason"`
}

// ComplexityCategory buckets a request's estimated cost.
type ComplexityCategory string

const (
	ComplexityLow     ComplexityCategory = "low"
	ComplexityMedium  ComplexityCategory = "medium"
	ComplexityHigh    ComplexityCategory = "high"
	ComplexityExtreme ComplexityCategory = "extreme"
)

// ComplexityAnalysis estimates the cost of a simulation request.
type ComplexityAnalysis struct {
	SymbolsCount       int                `json:"symbols_count"`
	DateRangeDays      int                `json:"date_range_days"`
	BaseComplexity     float64            `json:"base_complexity"`
	StrategyMultiplier float64            `json:"strategy_multiplier"`
	MarketMultiplier   float64            `json:"market_complexity_multiplier"`
	TotalComplexity    float64            `json:"total_complexity"`
	Category           ComplexityCategory `json:"complexity_category"`
	ShouldUseParallel  bool               `json:"should_use_parallel"`
	RecommendedWorkers int                `json:"recommended_workers"`
}

// ExecutionMode says how a plan will be carried out.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// ExecutionPlan is the planner's decomposition of a request.
type ExecutionPlan struct {
	Mode            ExecutionMode      `json:"mode"`
	Complexity      ComplexityAnalysis `json:"complexity"`
	WorkerConfigs   []*TradingConfig   `json:"worker_configs"`
	EstimatedTimeS  float64            `json:"estimated_time_s"`
	ParallelSpeedup float64            `json:"parallel_speedup"`
}
