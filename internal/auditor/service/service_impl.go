package service

import (
	"context"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	auditordomain "github.com/smallbiznis/loyalty/internal/auditor/domain"
	"github.com/smallbiznis/loyalty/internal/config"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/loyalty/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Accounts   accountdomain.Repository
	Reconciler reconciledomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	workers    int
	accounts   accountdomain.Repository
	reconciler reconciledomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) auditordomain.Service {
	workers := p.Cfg.AuditWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("auditor.service"),
		workers:    workers,
		accounts:   p.Accounts,
		reconciler: p.Reconciler,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) AuditAll(ctx context.Context) (auditordomain.Report, error) {
	ids, err := s.accounts.ListWithPoints(ctx, s.db)
	if err != nil {
		return auditordomain.Report{}, err
	}

	s.obsMetrics.RecordAuditRun(ctx)

	report := auditordomain.Report{
		TotalUsers:     len(ids),
		InvalidDetails: []auditordomain.InvalidDetail{},
	}

	var mu sync.Mutex
	var firstErr error

	s.forEachUser(ctx, ids, func(userID snowflake.ID) {
		validation, validateErr := s.reconciler.Validate(ctx, userID)

		mu.Lock()
		defer mu.Unlock()
		if validateErr != nil {
			if firstErr == nil {
				firstErr = validateErr
			}
			return
		}
		if validation.IsValid {
			report.ValidUsers++
			return
		}
		report.InvalidUsers++
		report.InvalidDetails = append(report.InvalidDetails, auditordomain.InvalidDetail{
			UserID:           userID,
			CurrentPoints:    validation.CurrentPoints,
			CalculatedPoints: validation.CalculatedPoints,
			Difference:       validation.Difference,
		})
	})

	if firstErr != nil {
		return auditordomain.Report{}, firstErr
	}

	sort.Slice(report.InvalidDetails, func(i, j int) bool {
		return report.InvalidDetails[i].UserID < report.InvalidDetails[j].UserID
	})

	s.log.Info("audit completed",
		zap.Int("total_users", report.TotalUsers),
		zap.Int("valid_users", report.ValidUsers),
		zap.Int("invalid_users", report.InvalidUsers),
	)
	return report, nil
}

func (s *Service) FixAll(ctx context.Context) ([]auditordomain.FixOutcome, error) {
	report, err := s.AuditAll(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]auditordomain.FixOutcome, 0, len(report.InvalidDetails))
	for _, detail := range report.InvalidDetails {
		outcome := auditordomain.FixOutcome{UserID: detail.UserID}
		result, fixErr := s.reconciler.Fix(ctx, detail.UserID)
		if fixErr != nil {
			outcome.Error = fixErr.Error()
		} else {
			outcome.Fixed = result.Difference != 0
			outcome.Result = result
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// forEachUser fans the per-user work out over a bounded pool. Each user's
// validation is independent, so ordering inside the pool does not matter.
func (s *Service) forEachUser(ctx context.Context, ids []snowflake.ID, fn func(snowflake.ID)) {
	jobs := make(chan snowflake.ID)
	var wg sync.WaitGroup

	workers := s.workers
	if workers > len(ids) {
		workers = len(ids)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				fn(userID)
			}
		}()
	}

	for _, userID := range ids {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- userID:
		}
	}
	close(jobs)
	wg.Wait()
}
