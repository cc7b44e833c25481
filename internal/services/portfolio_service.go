package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/cache"
	"tally/internal/core"
	applog "tally/internal/log"
	"tally/internal/portfolio"
	"tally/internal/sheets"
	"tally/internal/storage"
)

const (
	DefaultRunwayMonths = 3
	MaxRunwayMonths     = 24
	summaryKey          = "savings"
)

// RunwayReport is how long the latest savings total covers recent spending.
type RunwayReport struct {
	Quarter                string           `json:"quarter"`
	Savings                core.Money       `json:"savings"`
	AverageMonthlyExpenses core.Money       `json:"average_monthly_expenses"`
	MonthsConsidered       int              `json:"months_considered"`
	From                   string           `json:"from"`
	To                     string           `json:"to"`
	Months                 *decimal.Decimal `json:"runway_months"` // nil when there is no spending to divide by
}

// PortfolioService reads the Savings tab and derives allocation and runway.
type PortfolioService struct {
	savings sheets.SavingsReader
	store   storage.Store
	loader  *cache.Loader[portfolio.Summary]
	logger  *applog.Logger
	now     func() time.Time
}

// NewPortfolioService caches the parsed Savings tab in c.
func NewPortfolioService(savings sheets.SavingsReader, store storage.Store, c cache.Cache[portfolio.Summary], logger *applog.Logger) *PortfolioService {
	if logger == nil {
		logger = applog.Nop()
	}
	return &PortfolioService{
		savings: savings,
		store:   store,
		loader:  cache.NewLoader(c),
		logger:  logger.WithComponent(applog.ComponentPortfolio),
		now:     time.Now,
	}
}

// Summary is the allocation of the most recent quarter.
func (s *PortfolioService) Summary(ctx context.Context) (portfolio.Summary, error) {
	return s.loader.Get(ctx, summaryKey, func(ctx context.Context) (portfolio.Summary, error) {
		rows, err := s.savings.ReadSavings(ctx)
		if err != nil {
			return portfolio.Summary{}, err
		}
		sum := portfolio.Summarize(rows)
		s.logger.DebugContext(ctx, "Loaded savings", "quarter", sum.Quarter, applog.FieldCount, len(rows))
		return sum, nil
	})
}

// Refresh drops the cached Savings tab.
func (s *PortfolioService) Refresh() {
	s.loader.Invalidate(summaryKey)
}

// Runway divides the latest savings total by the user's average monthly
// expenses over the last n complete months. Months without a stored
// aggregate are not counted.
func (s *PortfolioService) Runway(ctx context.Context, userID string, n int) (RunwayReport, error) {
	if n <= 0 {
		n = DefaultRunwayMonths
	}
	if n > MaxRunwayMonths {
		return RunwayReport{}, core.Validationf("months must be at most %d", MaxRunwayMonths)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		return RunwayReport{}, err
	}

	current := core.MonthStart(s.now().UTC())
	from := core.DateOf(current.AddDate(0, -n, 0))
	to := core.MonthEnd(current.AddDate(0, -1, 0))

	aggs, err := s.store.ListMonthlyAggregates(ctx, userID, from, to)
	if err != nil {
		return RunwayReport{}, err
	}

	avg := portfolio.AverageMonthlyExpenses(aggs)
	report := RunwayReport{
		Quarter:                sum.Quarter,
		Savings:                sum.Total,
		AverageMonthlyExpenses: avg,
		MonthsConsidered:       len(aggs),
		From:                   from.MonthKey(),
		To:                     to.MonthKey(),
	}
	if months, ok := portfolio.Runway(sum.Total, avg); ok {
		report.Months = &months
	}
	return report, nil
}
