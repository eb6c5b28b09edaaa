package interfaces

import (
	"context"

	"github.com/ternarybob/folio/internal/models"
)

// SheetProcessResult is what a successful sheet parse produces.
type SheetProcessResult struct {
	PortfolioID string
	Portfolio   *models.Portfolio
	Deleted     models.DeletedFlags
}

// SheetProcessor parses one spreadsheet sheet into a portfolio record and
// stores it. Failure is reported by error; the job routine records it as a
// per-sheet failure and continues.
type SheetProcessor interface {
	Process(ctx context.Context, sheetID string, parseMethod string) (*SheetProcessResult, error)
}

// HoldingsFetcher retrieves ETF holdings for an ISIN, honoring the cache
// policy unless forceRefresh is set. The bool result reports whether the
// data came from cache.
type HoldingsFetcher interface {
	FetchHoldings(ctx context.Context, isin string, forceRefresh bool) (*models.ETFHoldings, bool, error)
}
