package services

import (
	"context"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/budget"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/prom"
)

type DueLister interface {
	FindDue(ctx context.Context, limit, offset int) ([]*model.Transaction, error)
}

type Dispatcher interface {
	Handle(ctx context.Context, txn *model.Transaction) (DispatchOutcome, error)
}

type FetchConfig struct {
	PageSize  int
	StopGrace time.Duration
}

type FetchStats struct {
	Seen     int  `json:"seen"`
	Fired    int  `json:"fired"`
	NotDue   int  `json:"notDue"`
	Skipped  int  `json:"skipped"`
	Reverted int  `json:"reverted"`
	Stopped  bool `json:"stopped"`
}

// FetchService walks every fire candidate once per run, oldest first.
type FetchService struct {
	repo       DueLister
	dispatcher Dispatcher
	config     FetchConfig
}

func NewFetchService(repo DueLister, dispatcher Dispatcher, config FetchConfig) *FetchService {
	if config.PageSize <= 0 {
		config.PageSize = 20
	}
	return &FetchService{repo: repo, dispatcher: dispatcher, config: config}
}

// Run pages through due candidates until a page comes back empty or the
// budget drops under the stop grace. The offset only moves past rows that
// are still candidates; fired rows drop out of the result set on their own.
// Each run starts again from the first page.
func (s *FetchService) Run(ctx context.Context, b budget.Budget) FetchStats {
	var stats FetchStats
	offset := 0
	// a lagging read replica can return a row this run already moved
	handled := make(map[string]struct{})

	for ctx.Err() == nil {
		page, err := s.repo.FindDue(ctx, s.config.PageSize, offset)
		if err != nil {
			logger.Error("unable to fetch due transactions", "offset", offset, "error", err)
			return stats
		}
		logger.Info("fetched due transactions", "count", len(page), "offset", offset)
		if len(page) == 0 {
			return stats
		}

		for _, txn := range page {
			if b.Remaining() < s.config.StopGrace {
				logger.Warn("time budget nearly spent, stopping fetch", "remaining", b.Remaining(), "offset", offset)
				stats.Stopped = true
				return stats
			}

			if _, ok := handled[txn.ID]; ok {
				offset++
				continue
			}
			handled[txn.ID] = struct{}{}
			stats.Seen++
			prom.IncFetchSeen()

			outcome, err := s.dispatcher.Handle(ctx, txn)
			if err != nil {
				logger.Error("unable to handle transaction", "transaction_id", txn.ID, "error", err)
			}
			switch outcome {
			case DispatchFired:
				stats.Fired++
			case DispatchNotDue:
				stats.NotDue++
			case DispatchReverted:
				stats.Reverted++
			default:
				stats.Skipped++
			}
			if !outcome.LeftCandidates() {
				offset++
			}
		}
	}
	return stats
}
