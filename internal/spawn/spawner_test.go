package spawn_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/spawn"
	"github.com/meridianquant/backtester/pkg/types"
)

func workerConfig(symbols ...string) *types.TradingConfig {
	return &types.TradingConfig{
		Symbols:         symbols,
		StartDate:       "2024-01-02",
		EndDate:         "2024-01-31",
		StartingCapital: decimal.NewFromInt(10000),
		StrategyName:    "ma_crossover",
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	s := spawn.NewSpawner(zap.NewNop(), "/nonexistent/backtest-worker", 1)
	res := s.Spawn(context.Background(), workerConfig("AAPL"))

	if res.ReturnCode != 127 {
		t.Errorf("ReturnCode = %d, want 127", res.ReturnCode)
	}
	if res.TimedOut {
		t.Error("Launch failure misreported as timeout")
	}
	if len(res.Symbols) != 1 || res.Symbols[0] != "AAPL" {
		t.Errorf("Symbols = %v", res.Symbols)
	}
}

func TestSpawnPropagatesExitCode(t *testing.T) {
	// The trailing comment swallows the --simulate arguments.
	s := spawn.NewSpawner(zap.NewNop(), "exit 3 #", 1)
	res := s.Spawn(context.Background(), workerConfig("AAPL"))

	if res.ReturnCode != 3 {
		t.Errorf("ReturnCode = %d, want 3", res.ReturnCode)
	}
	if res.Result != nil {
		t.Error("Failed worker should carry no result document")
	}
}

func TestSpawnParsesResultDocument(t *testing.T) {
	s := spawn.NewSpawner(zap.NewNop(),
		`echo '{"starting_capital":10000,"ending_value":10500,"total_return_pct":5,"trades":4}' #`, 1)
	res := s.Spawn(context.Background(), workerConfig("AAPL", "MSFT"))

	if res.ReturnCode != 0 {
		t.Fatalf("ReturnCode = %d, stderr %q", res.ReturnCode, res.Stderr)
	}
	if res.Result == nil {
		t.Fatalf("Result not parsed from stdout %q", res.Stdout)
	}
	if res.Result.EndingValue != 10500 || res.Result.Trades != 4 {
		t.Errorf("Result = %+v", res.Result)
	}
}

func TestSpawnNonJSONStdout(t *testing.T) {
	s := spawn.NewSpawner(zap.NewNop(), "echo", 1)
	res := s.Spawn(context.Background(), workerConfig("AAPL"))

	if res.ReturnCode != 0 {
		t.Fatalf("ReturnCode = %d", res.ReturnCode)
	}
	if res.Result != nil {
		t.Error("Plain-text stdout should not parse as a result")
	}
	if !strings.Contains(res.Stdout, "--simulate --config") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestSpawnTimeout(t *testing.T) {
	s := spawn.NewSpawner(zap.NewNop(), "sleep 5 #", 1)
	s.SetTimeout(100 * time.Millisecond)
	res := s.Spawn(context.Background(), workerConfig("AAPL"))

	if !res.TimedOut {
		t.Fatal("Slow worker not reported as timed out")
	}
	if res.ReturnCode != -1 {
		t.Errorf("ReturnCode = %d, want -1", res.ReturnCode)
	}
}

func TestSpawnParallelPreservesOrder(t *testing.T) {
	s := spawn.NewSpawner(zap.NewNop(), "echo", 2)
	configs := []*types.TradingConfig{
		workerConfig("AAPL"),
		workerConfig("MSFT"),
		workerConfig("GOOG"),
	}
	results := s.SpawnParallel(context.Background(), configs)

	if len(results) != 3 {
		t.Fatalf("Got %d results", len(results))
	}
	for i, want := range []string{"AAPL", "MSFT", "GOOG"} {
		if results[i] == nil || results[i].Symbols[0] != want {
			t.Errorf("results[%d] = %+v, want symbol %s", i, results[i], want)
		}
	}
}

func TestSpawnParallelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := spawn.NewSpawner(zap.NewNop(), "echo", 2)
	results := s.SpawnParallel(ctx, []*types.TradingConfig{workerConfig("AAPL")})

	if results[0].ReturnCode != -1 {
		t.Errorf("Cancelled dispatch returned code %d", results[0].ReturnCode)
	}
}
