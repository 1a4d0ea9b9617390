package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/money"
	"pdv/backend/internal/telemetry"
)

const dayLayout = "2006-01-02"

// Summarize aggregates PAID sales inside the filter window. An empty window
// yields zero totals and empty lists.
func (s *Service) Summarize(ctx context.Context, filter domain.SummaryFilter) (domain.Summary, error) {
	if _, err := authorize(ctx, domain.Role.CanManageCatalog, "read reports"); err != nil {
		return domain.Summary{}, err
	}
	q, err := s.reportQuery(filter)
	if err != nil {
		return domain.Summary{}, err
	}

	ctx, span := s.startSpan(ctx, "summarize",
		attribute.String("report.from", q.From.Format(dayLayout)),
		attribute.String("report.to", q.To.Format(dayLayout)),
	)
	summary, err := s.summarize(ctx, q)
	telemetry.End(span, err)
	return summary, err
}

func (s *Service) summarize(ctx context.Context, q domain.ReportQuery) (domain.Summary, error) {
	lookup, err := s.cache.Get(ctx, q)
	if err != nil {
		s.log.Warn().Err(err).Msg("report cache read failed")
	}
	s.metrics.RecordCacheLookup(lookup.Hit)
	if lookup.Hit {
		return *lookup.Summary, nil
	}

	readCtx, cancel := context.WithTimeout(ctx, s.uowTimeout)
	defer cancel()
	summary, err := s.repo.Summarize(readCtx, q)
	if err != nil {
		if readCtx.Err() != nil && domain.Kind(err) == nil {
			return domain.Summary{}, domain.Transient(err)
		}
		return domain.Summary{}, err
	}

	summary.DateFrom = q.From.Format(dayLayout)
	summary.DateTo = q.To.AddDate(0, 0, -1).Format(dayLayout)
	summary.AverageCents = money.Average(summary.TotalCents, summary.Count)

	if err := s.cache.Set(ctx, lookup.Slot, &summary, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("report cache write failed")
	}
	return summary, nil
}

// reportQuery resolves inclusive UTC day bounds into a half-open window
// [from 00:00, to+1d 00:00). Each missing bound defaults to today.
func (s *Service) reportQuery(filter domain.SummaryFilter) (domain.ReportQuery, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	from, err := parseDay("date_from", filter.DateFrom, today)
	if err != nil {
		return domain.ReportQuery{}, err
	}
	to, err := parseDay("date_to", filter.DateTo, today)
	if err != nil {
		return domain.ReportQuery{}, err
	}
	if from.After(to) {
		return domain.ReportQuery{}, domain.NewValidationError("date_from", "must not be after date_to")
	}

	if filter.ProductID < 0 {
		return domain.ReportQuery{}, domain.NewValidationError("product_id", "must be positive")
	}
	if filter.MinTotal != nil && *filter.MinTotal < 0 {
		return domain.ReportQuery{}, domain.NewValidationError("min_total", "must not be negative")
	}
	if filter.MaxTotal != nil && *filter.MaxTotal < 0 {
		return domain.ReportQuery{}, domain.NewValidationError("max_total", "must not be negative")
	}
	if filter.MinTotal != nil && filter.MaxTotal != nil && *filter.MinTotal > *filter.MaxTotal {
		return domain.ReportQuery{}, domain.NewValidationError("min_total", "must not exceed max_total")
	}

	topN := filter.TopN
	if topN == 0 {
		topN = s.topN
	}
	if topN < 1 || topN > domain.MaxTopN {
		return domain.ReportQuery{}, domain.NewValidationError("top_n", "must be between 1 and 50")
	}

	return domain.ReportQuery{
		From:      from,
		To:        to.AddDate(0, 0, 1),
		SellerID:  strings.TrimSpace(filter.SellerID),
		ProductID: filter.ProductID,
		MinTotal:  filter.MinTotal,
		MaxTotal:  filter.MaxTotal,
		TopN:      topN,
	}, nil
}

func parseDay(field string, raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	day, err := time.ParseInLocation(dayLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "must be a date in YYYY-MM-DD format")
	}
	return day, nil
}
