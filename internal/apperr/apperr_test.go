package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/meridianquant/backtester/internal/apperr"
)

func TestCodeExtraction(t *testing.T) {
	err := apperr.New(apperr.CodeInvalidCapital, "capital must be positive")
	if apperr.CodeOf(err) != apperr.CodeInvalidCapital {
		t.Errorf("CodeOf = %s", apperr.CodeOf(err))
	}
	if !apperr.HasCode(err, apperr.CodeInvalidCapital) {
		t.Error("HasCode missed the direct code")
	}
	if apperr.HasCode(err, apperr.CodeInvalidSymbol) {
		t.Error("HasCode matched the wrong code")
	}
}

func TestWrapPreservesCodeThroughChains(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := apperr.Wrap(apperr.CodeConnectionFailed, "postgres unreachable", cause)

	wrapped := fmt.Errorf("loading prices: %w", err)
	if !apperr.HasCode(wrapped, apperr.CodeConnectionFailed) {
		t.Error("Code lost through fmt.Errorf wrapping")
	}
	if !errors.Is(wrapped, apperr.New(apperr.CodeConnectionFailed, "")) {
		t.Error("errors.Is should match by code")
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if got := apperr.CodeOf(errors.New("plain")); got != apperr.CodeIOFailed {
		t.Errorf("Foreign error mapped to %s, want io_failed", got)
	}
}

func TestCategories(t *testing.T) {
	cases := map[apperr.Code]apperr.Category{
		apperr.CodeQueryFailed:       apperr.CategoryDatabase,
		apperr.CodeInvalidDateRange:  apperr.CategoryValidation,
		apperr.CodeInsufficientData:  apperr.CategoryTechnicalAnalysis,
		apperr.CodeNoPosition:        apperr.CategoryExecution,
		apperr.CodeSimulationFailed:  apperr.CategoryEngine,
		apperr.CodeWorkerTimeout:     apperr.CategorySystem,
		apperr.Code("something_new"): apperr.CategorySystem,
	}
	for code, want := range cases {
		if got := code.Category(); got != want {
			t.Errorf("%s categorised as %s, want %s", code, got, want)
		}
	}
}

func TestWithDetail(t *testing.T) {
	err := apperr.New(apperr.CodeSymbolNotFound, "no rows").
		WithDetail("symbol", "ZZZZ").
		WithDetail("table", "stock_prices")
	if err.Details["symbol"] != "ZZZZ" || err.Details["table"] != "stock_prices" {
		t.Errorf("Details = %v", err.Details)
	}
}
