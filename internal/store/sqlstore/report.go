package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"pdv/backend/internal/domain"
)

// reportWhere builds the PAID-only predicate over the sales alias "s".
func reportWhere(q domain.ReportQuery) (string, []any) {
	conds := []string{"s.status = $1", "s.created_at >= $2", "s.created_at < $3"}
	args := []any{string(domain.SaleStatusPaid), q.From, q.To}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if q.SellerID != "" {
		add("s.seller_id = ?", q.SellerID)
	}
	if q.ProductID != 0 {
		add("EXISTS (SELECT 1 FROM sale_items x WHERE x.sale_id = s.id AND x.product_id = ?)", q.ProductID)
	}
	if q.MinTotal != nil {
		add("s.total_cents >= ?", *q.MinTotal)
	}
	if q.MaxTotal != nil {
		add("s.total_cents <= ?", *q.MaxTotal)
	}
	return strings.Join(conds, " AND "), args
}

// Summarize runs the four aggregates concurrently; each is a single
// statement so it sees a consistent snapshot of its own rows.
func (s *Store) Summarize(ctx context.Context, q domain.ReportQuery) (domain.Summary, error) {
	where, args := reportWhere(q)
	limitArg := fmt.Sprintf("$%d", len(args)+1)
	limited := append(append([]any(nil), args...), q.TopN)

	summary := domain.Summary{
		ByPayment:   []domain.PaymentBreakdown{},
		TopProducts: []domain.ProductRank{},
		TopSellers:  []domain.SellerRank{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.db.QueryRowContext(gctx, s.q(`
			SELECT COUNT(*), CAST(COALESCE(SUM(s.total_cents), 0) AS BIGINT)
			FROM sales s
			WHERE `+where), args...).Scan(&summary.Count, &summary.TotalCents)
	})

	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, s.q(`
			SELECT s.payment_method, COUNT(*), CAST(COALESCE(SUM(s.total_cents), 0) AS BIGINT) AS total
			FROM sales s
			WHERE `+where+`
			GROUP BY s.payment_method
			ORDER BY total DESC, s.payment_method
		`), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row domain.PaymentBreakdown
			if err := rows.Scan(&row.PaymentMethod, &row.Count, &row.TotalCents); err != nil {
				return err
			}
			summary.ByPayment = append(summary.ByPayment, row)
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, s.q(`
			SELECT i.product_id, p.name, CAST(SUM(i.qty) AS BIGINT) AS qty, CAST(SUM(i.total_cents) AS BIGINT)
			FROM sale_items i
			JOIN sales s ON s.id = i.sale_id
			JOIN products p ON p.id = i.product_id
			WHERE `+where+`
			GROUP BY i.product_id, p.name
			ORDER BY qty DESC, i.product_id
			LIMIT `+limitArg), limited...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row domain.ProductRank
			if err := rows.Scan(&row.ProductID, &row.Name, &row.Qty, &row.TotalCents); err != nil {
				return err
			}
			summary.TopProducts = append(summary.TopProducts, row)
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, s.q(`
			SELECT s.seller_id, COUNT(*), CAST(SUM(s.total_cents) AS BIGINT) AS total
			FROM sales s
			WHERE `+where+`
			GROUP BY s.seller_id
			ORDER BY total DESC, s.seller_id
			LIMIT `+limitArg), limited...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row domain.SellerRank
			if err := rows.Scan(&row.SellerID, &row.Count, &row.TotalCents); err != nil {
				return err
			}
			summary.TopSellers = append(summary.TopSellers, row)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return domain.Summary{}, s.classify(err)
	}
	return summary, nil
}
