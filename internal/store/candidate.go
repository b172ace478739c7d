package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"alphaforge.app/scout/core/db"
	"alphaforge.app/scout/internal/model"
)

const candidateColumns = `id, job_id, mode, category, symbols, thesis, entry_rules,
	exit_rules, confidence, disposition, created_at`

type candidateStore struct {
	q db.Querier
}

func (s *candidateStore) Create(ctx context.Context, c *model.Candidate) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO candidates (
			id, job_id, mode, category, symbols, thesis, entry_rules,
			exit_rules, confidence, disposition, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		c.ID,
		c.JobID,
		string(c.Mode),
		c.Category,
		c.Symbols,
		c.Thesis,
		c.EntryRules,
		c.ExitRules,
		c.Confidence,
		string(c.Disposition),
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

func (s *candidateStore) GetByID(ctx context.Context, id int64) (*model.Candidate, error) {
	row := s.q.QueryRow(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id)

	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query candidate: %w", err)
	}
	return c, nil
}

func (s *candidateStore) List(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + candidateColumns + ` FROM candidates`)

	args := make([]any, 0, 3)
	conds := make([]string, 0, 2)
	if filter.Disposition != nil {
		args = append(args, string(*filter.Disposition))
		conds = append(conds, fmt.Sprintf("disposition = $%d", len(args)))
	}
	if filter.Mode != nil {
		args = append(args, string(*filter.Mode))
		conds = append(conds, fmt.Sprintf("mode = $%d", len(args)))
	}
	if len(conds) > 0 {
		query.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)))

	rows, err := s.q.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]model.Candidate, 0)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, *c)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate candidates: %w", rows.Err())
	}
	return candidates, nil
}

func scanCandidate(row pgx.Row) (*model.Candidate, error) {
	var (
		c           model.Candidate
		mode        string
		disposition string
	)

	err := row.Scan(
		&c.ID,
		&c.JobID,
		&mode,
		&c.Category,
		&c.Symbols,
		&c.Thesis,
		&c.EntryRules,
		&c.ExitRules,
		&c.Confidence,
		&disposition,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Mode = model.Mode(mode)
	c.Disposition = model.Disposition(disposition)
	return &c, nil
}
