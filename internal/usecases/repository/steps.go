package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/pkg/database"
)

// StepsRepository persists workflow step executions.
type StepsRepository struct {
	logger *slog.Logger

	db tx.DBGetter
}

func NewStepsRepository(logger *slog.Logger, pg *database.Postgres) *StepsRepository {
	return &StepsRepository{logger: logger, db: pg.DBGetter}
}

func (r *StepsRepository) InsertStep(ctx context.Context, step *entities.WorkflowStep) error {
	input, err := marshalJSON(step.InputData)
	if err != nil {
		return err
	}
	output, err := marshalJSON(step.OutputData)
	if err != nil {
		return err
	}

	err = r.db(ctx).QueryRow(ctx, `
		INSERT INTO workflow_steps
			(transaction_id, step_name, status, input_data, output_data, error_message, attempts, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		step.TransactionID, step.StepName, step.Status, input, output,
		step.ErrorMessage, step.Attempts, step.StartedAt, step.CompletedAt, step.CreatedAt).
		Scan(&step.ID)
	if err != nil {
		return fmt.Errorf("failed to insert workflow step: %w", err)
	}
	return nil
}

// ClaimStep moves a pending or retried step to processing, bumping the
// attempt counter. The conditional update keeps two executors from
// claiming the same step.
func (r *StepsRepository) ClaimStep(ctx context.Context, stepID int) (*entities.WorkflowStep, error) {
	rows, err := r.db(ctx).Query(ctx, `
		UPDATE workflow_steps
		   SET status = 'in_progress', attempts = attempts + 1, started_at = $2
		 WHERE id = $1 AND status IN ('pending', 'failed')
		RETURNING id, transaction_id, step_name, status, input_data, output_data, error_message, attempts, started_at, completed_at, created_at`,
		stepID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim step: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("step %d: %w", stepID, entities.ErrConcurrencyConflict)
	}
	return scanStep(rows)
}

func (r *StepsRepository) UpdateStep(ctx context.Context, step *entities.WorkflowStep) error {
	output, err := marshalJSON(step.OutputData)
	if err != nil {
		return err
	}

	_, err = r.db(ctx).Exec(ctx, `
		UPDATE workflow_steps
		   SET status = $2, output_data = $3, error_message = $4, attempts = $5, completed_at = $6
		 WHERE id = $1`,
		step.ID, step.Status, output, step.ErrorMessage, step.Attempts, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update workflow step: %w", err)
	}
	return nil
}

func (r *StepsRepository) FindSteps(ctx context.Context, transactionID string) ([]entities.WorkflowStep, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, transaction_id, step_name, status, input_data, output_data, error_message, attempts, started_at, completed_at, created_at
		  FROM workflow_steps
		 WHERE transaction_id = $1
		 ORDER BY id`, transactionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []entities.WorkflowStep
	for rows.Next() {
		step, scanErr := scanStep(rows)
		if scanErr != nil {
			r.logger.Error("failed to scan workflow step", "error", scanErr)
			return nil, scanErr
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func scanStep(row pgx.Row) (*entities.WorkflowStep, error) {
	var (
		step   entities.WorkflowStep
		input  []byte
		output []byte
	)
	err := row.Scan(&step.ID, &step.TransactionID, &step.StepName, &step.Status,
		&input, &output, &step.ErrorMessage, &step.Attempts,
		&step.StartedAt, &step.CompletedAt, &step.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &step.InputData); err != nil {
			return nil, fmt.Errorf("failed to decode step input: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &step.OutputData); err != nil {
			return nil, fmt.Errorf("failed to decode step output: %w", err)
		}
	}
	return &step, nil
}
