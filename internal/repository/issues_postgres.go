package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trackline/issue-api/internal/domain"
)

// PostgresIssueRepository persists issues in the shared issues table. Tags are
// stored as a comma-delimited text column; the in-memory model stays a slice.
type PostgresIssueRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresIssueRepository(ctx context.Context, databaseURL string) (*PostgresIssueRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresIssueRepository{pool: pool}, nil
}

func (r *PostgresIssueRepository) Close() {
	r.pool.Close()
}

func (r *PostgresIssueRepository) CreateIssue(ctx context.Context, issue *domain.Issue) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO issues (
			id,
			title,
			description,
			status,
			priority,
			ai_summary,
			tags,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		issue.ID,
		issue.Title,
		issue.Description,
		string(issue.Status),
		string(issue.Priority),
		issue.AISummary,
		encodeTags(issue.Tags),
		issue.CreatedAt,
		issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (r *PostgresIssueRepository) GetIssue(ctx context.Context, issueID string) (*domain.Issue, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, title, description, status, priority, ai_summary, tags, created_at, updated_at
		FROM issues
		WHERE id = $1
	`, issueID)

	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query issue: %w", err)
	}
	return issue, nil
}

func (r *PostgresIssueRepository) UpdateIssue(ctx context.Context, issue *domain.Issue) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE issues
		SET title = $2,
			description = $3,
			status = $4,
			priority = $5,
			updated_at = $6
		WHERE id = $1
	`,
		issue.ID,
		issue.Title,
		issue.Description,
		string(issue.Status),
		string(issue.Priority),
		issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresIssueRepository) DeleteIssue(ctx context.Context, issueID string) error {
	command, err := r.pool.Exec(ctx, `DELETE FROM issues WHERE id = $1`, issueID)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresIssueRepository) ListIssues(
	ctx context.Context,
	filter domain.IssueListFilter,
) ([]*domain.Issue, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	baseQuery, args := buildIssueFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT id, title, description, status, priority, ai_summary, tags, created_at, updated_at
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Issue, 0)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan issue: %w", err)
		}
		items = append(items, issue)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate issues: %w", rows.Err())
	}

	return items, total, nil
}

// SetEnrichment writes both enrichment fields in one statement so the issue is
// never observed with one field set and the other null.
func (r *PostgresIssueRepository) SetEnrichment(
	ctx context.Context,
	issueID string,
	summary string,
	tags []string,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE issues
		SET ai_summary = $2,
			tags = $3,
			updated_at = $4
		WHERE id = $1
	`, issueID, summary, encodeTags(tags), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set enrichment: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*domain.Issue, error) {
	var (
		issue    domain.Issue
		status   string
		priority string
		tags     *string
	)
	err := row.Scan(
		&issue.ID,
		&issue.Title,
		&issue.Description,
		&status,
		&priority,
		&issue.AISummary,
		&tags,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	issue.Status = domain.IssueStatus(status)
	issue.Priority = domain.IssuePriority(priority)
	issue.Tags = decodeTags(tags)
	return &issue, nil
}

func buildIssueFilters(filter domain.IssueListFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM issues WHERE 1=1")

	args := make([]any, 0, 3)
	argIndex := 1

	if filter.Status != "" {
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}
	if filter.Priority != "" {
		query.WriteString(fmt.Sprintf(" AND priority = $%d", argIndex))
		args = append(args, string(filter.Priority))
		argIndex++
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query.WriteString(fmt.Sprintf(" AND (title ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')", argIndex, argIndex))
		args = append(args, search)
		argIndex++
	}

	return query.String(), args
}

func encodeTags(tags []string) *string {
	if tags == nil {
		return nil
	}
	joined := strings.Join(tags, ",")
	return &joined
}

func decodeTags(value *string) []string {
	if value == nil {
		return nil
	}
	if *value == "" {
		return []string{}
	}
	return strings.Split(*value, ",")
}
