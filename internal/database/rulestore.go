package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/coralbay/tripwire/internal/rules"
)

// RuleStore implements rules.Store on PostgreSQL.
type RuleStore struct {
	db *Postgres
}

var _ rules.Store = (*RuleStore)(nil)

// NewRuleStore creates a rule store over an open connection.
func NewRuleStore(db *Postgres) *RuleStore {
	return &RuleStore{db: db}
}

const ruleColumns = `id, name, type, params, enabled, priority, critical,
	description, created_by, execution_count, match_count,
	avg_execution_time_ms, last_executed_at, created_at, updated_at`

// uniqueViolation is the Postgres error code for a unique-constraint hit.
const uniqueViolation = "23505"

func (s *RuleStore) InsertRule(ctx context.Context, rule *rules.Rule) error {
	params := rule.Params
	if len(params) == 0 {
		params = []byte("{}")
	}

	query := `
		INSERT INTO rules (
			id, name, type, params, enabled, priority, critical,
			description, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		string(rule.Type),
		[]byte(params),
		rule.Enabled,
		rule.Priority,
		rule.Critical,
		nullString(rule.Description),
		nullString(rule.CreatedBy),
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return rules.DuplicateNameError{Name: rule.Name}
	}
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *RuleStore) GetRule(ctx context.Context, id uuid.UUID) (*rules.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rules.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *RuleStore) GetRuleByName(ctx context.Context, name string) (*rules.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE name = $1`
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rules.NotFoundError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("get rule by name: %w", err)
	}
	return rule, nil
}

func (s *RuleStore) ListRules(ctx context.Context, filter rules.ListFilter) ([]*rules.Rule, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.Enabled != nil {
		where += fmt.Sprintf(" AND enabled = $%d", argIdx)
		args = append(args, *filter.Enabled)
		argIdx++
	}
	if filter.Type != nil {
		where += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, string(*filter.Type))
		argIdx++
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rules"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rules: %w", err)
	}

	query := `SELECT ` + ruleColumns + ` FROM rules` + where +
		` ORDER BY priority DESC, updated_at DESC`
	if filter.Limit >= 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, total, rows.Err()
}

func (s *RuleStore) UpdateRule(ctx context.Context, rule *rules.Rule) error {
	params := rule.Params
	if len(params) == 0 {
		params = []byte("{}")
	}

	query := `
		UPDATE rules SET
			name = $2, params = $3, enabled = $4, priority = $5,
			critical = $6, description = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		[]byte(params),
		rule.Enabled,
		rule.Priority,
		rule.Critical,
		nullString(rule.Description),
		rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return rules.DuplicateNameError{Name: rule.Name}
	}
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if affected == 0 {
		return rules.NotFoundError{ID: rule.ID}
	}
	return nil
}

func (s *RuleStore) DeleteRule(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	return affected > 0, nil
}

func (s *RuleStore) InsertExecution(ctx context.Context, exec *rules.Execution) error {
	var contextJSON []byte
	if len(exec.Context) > 0 {
		contextJSON = exec.Context
	}

	query := `
		INSERT INTO rule_executions (
			id, rule_id, transaction_id, correlation_id, matched,
			confidence_score, execution_time_ms, context, error_message,
			executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.RuleID,
		exec.TransactionID,
		nullString(exec.CorrelationID),
		exec.Matched,
		exec.Confidence,
		exec.ExecutionMs,
		nullBytes(contextJSON),
		nullString(exec.ErrorMessage),
		exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ApplyExecutionStats recomputes the running average in SQL so concurrent
// evaluations fold their observations without a read-modify-write race.
func (s *RuleStore) ApplyExecutionStats(ctx context.Context, id uuid.UUID, matched bool, execMs float64, at time.Time) error {
	query := `
		UPDATE rules SET
			execution_count = execution_count + 1,
			match_count = match_count + CASE WHEN $2 THEN 1 ELSE 0 END,
			avg_execution_time_ms =
				(avg_execution_time_ms * execution_count + $3) / (execution_count + 1),
			last_executed_at = $4
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, matched, execMs, at)
	if err != nil {
		return fmt.Errorf("apply execution stats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply execution stats: %w", err)
	}
	if affected == 0 {
		return rules.NotFoundError{ID: id}
	}
	return nil
}

func (s *RuleStore) ListExecutions(ctx context.Context, ruleID uuid.UUID, limit int) ([]*rules.Execution, error) {
	if limit <= 0 {
		limit = rules.DefaultExecutionLimit
	}

	query := `
		SELECT id, rule_id, transaction_id, correlation_id, matched,
		       confidence_score, execution_time_ms, context, error_message,
		       executed_at
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*rules.Execution
	for rows.Next() {
		var exec rules.Execution
		var correlationID, errorMessage sql.NullString
		var confidence sql.NullFloat64
		var contextJSON []byte

		if err := rows.Scan(
			&exec.ID,
			&exec.RuleID,
			&exec.TransactionID,
			&correlationID,
			&exec.Matched,
			&confidence,
			&exec.ExecutionMs,
			&contextJSON,
			&errorMessage,
			&exec.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}

		exec.CorrelationID = correlationID.String
		exec.ErrorMessage = errorMessage.String
		if confidence.Valid {
			c := confidence.Float64
			exec.Confidence = &c
		}
		if len(contextJSON) > 0 {
			exec.Context = json.RawMessage(contextJSON)
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*rules.Rule, error) {
	var rule rules.Rule
	var ruleType string
	var params []byte
	var description, createdBy sql.NullString
	var lastExecuted sql.NullTime

	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&ruleType,
		&params,
		&rule.Enabled,
		&rule.Priority,
		&rule.Critical,
		&description,
		&createdBy,
		&rule.ExecutionCount,
		&rule.MatchCount,
		&rule.AvgExecutionTimeMs,
		&lastExecuted,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Type = rules.RuleType(ruleType)
	rule.Params = json.RawMessage(params)
	rule.Description = description.String
	rule.CreatedBy = createdBy.String
	if lastExecuted.Valid {
		t := lastExecuted.Time
		rule.LastExecutedAt = &t
	}
	return &rule, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
