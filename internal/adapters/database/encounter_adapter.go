package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

// EncounterAdapter implements EncounterRepository
type EncounterAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewEncounterAdapter creates a new encounter adapter
func NewEncounterAdapter(client *postgres.Client) repositories.EncounterRepository {
	return &EncounterAdapter{
		client: client,
		db:     client.Goqu(),
	}
}

// GetInput loads the de-identified text, PHI token map and billed codes for an encounter
func (a *EncounterAdapter) GetInput(ctx context.Context, encounterID string) (*entities.EncounterInput, error) {
	query, args, err := a.db.Select("id", "deidentified_text", "phi_token_map", "billed_codes").
		From("encounters").
		Where(goqu.Ex{"id": encounterID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	input := &entities.EncounterInput{}
	var text sql.NullString
	var tokensRaw, billedRaw []byte

	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&input.EncounterID,
		&text,
		&tokensRaw,
		&billedRaw,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("encounter with id %s not found", encounterID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get encounter", err)
	}

	input.DeidentifiedText = text.String
	if len(tokensRaw) > 0 {
		if err := json.Unmarshal(tokensRaw, &input.PHITokens); err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("encounter %s has a malformed phi token map", encounterID))
		}
	}
	if len(billedRaw) > 0 {
		if err := json.Unmarshal(billedRaw, &input.BilledCodes); err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("encounter %s has malformed billed codes", encounterID))
		}
	}

	return input, nil
}
