package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

const crosswalkTable = "cpt_crosswalk"

var crosswalkColumns = []interface{}{
	"source_code", "source_description", "target_code", "target_description",
	"mapping_type", "confidence", "provenance",
}

// CrosswalkAdapter implements CrosswalkRepository
type CrosswalkAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewCrosswalkAdapter creates a new crosswalk adapter
func NewCrosswalkAdapter(client *postgres.Client) repositories.CrosswalkRepository {
	return &CrosswalkAdapter{
		client: client,
		db:     client.Goqu(),
	}
}

// FindBySourceCode returns all mappings for a source code
func (a *CrosswalkAdapter) FindBySourceCode(ctx context.Context, sourceCode string) ([]*entities.CPTMapping, error) {
	return a.find(ctx, "find_by_source_code", goqu.Ex{"source_code": sourceCode})
}

// FindBySourceCodes returns mappings for all codes, grouped by source code, in one query
func (a *CrosswalkAdapter) FindBySourceCodes(ctx context.Context, sourceCodes []string) (map[string][]*entities.CPTMapping, error) {
	grouped := make(map[string][]*entities.CPTMapping, len(sourceCodes))
	if len(sourceCodes) == 0 {
		return grouped, nil
	}

	mappings, err := a.find(ctx, "find_by_source_codes", goqu.Ex{"source_code": sourceCodes})
	if err != nil {
		return nil, err
	}
	for _, m := range mappings {
		grouped[m.SourceCode] = append(grouped[m.SourceCode], m)
	}
	return grouped, nil
}

// FindByTargetCode returns all mappings that resolve to a CPT code
func (a *CrosswalkAdapter) FindByTargetCode(ctx context.Context, targetCode string) ([]*entities.CPTMapping, error) {
	return a.find(ctx, "find_by_target_code", goqu.Ex{"target_code": targetCode})
}

// TopSourceCodes returns the source codes with the most mappings
func (a *CrosswalkAdapter) TopSourceCodes(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	query, args, err := a.db.Select("source_code").
		From(crosswalkTable).
		GroupBy("source_code").
		Order(goqu.COUNT(goqu.Star()).Desc(), goqu.I("source_code").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list top source codes", err)
	}
	defer rows.Close()

	codes := make([]string, 0, limit)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, apperrors.NewInternalError("failed to scan source code", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (a *CrosswalkAdapter) find(ctx context.Context, op string, where exp.Ex) ([]*entities.CPTMapping, error) {
	query, args, err := a.db.Select(crosswalkColumns...).
		From(crosswalkTable).
		Where(where).
		Order(goqu.I("confidence").Desc().NullsLast(), goqu.I("target_code").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	start := time.Now()
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	observability.RecordCrosswalkQuery(ctx, op, time.Since(start))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query crosswalk", err)
	}
	defer rows.Close()

	var mappings []*entities.CPTMapping
	for rows.Next() {
		m := &entities.CPTMapping{}
		var sourceDesc, targetDesc, provenance sql.NullString
		var confidence sql.NullFloat64

		if err := rows.Scan(
			&m.SourceCode,
			&sourceDesc,
			&m.TargetCode,
			&targetDesc,
			&m.MappingType,
			&confidence,
			&provenance,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan crosswalk mapping", err)
		}

		m.SourceDescription = sourceDesc.String
		m.TargetDescription = targetDesc.String
		m.Provenance = provenance.String
		if confidence.Valid {
			c := confidence.Float64
			m.Confidence = &c
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate crosswalk mappings", err)
	}

	return mappings, nil
}
