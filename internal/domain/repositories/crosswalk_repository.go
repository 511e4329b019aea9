package repositories

import (
	"context"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
)

// CrosswalkRepository defines the interface for the terminology mapping store.
type CrosswalkRepository interface {
	FindBySourceCode(ctx context.Context, sourceCode string) ([]*entities.CPTMapping, error)
	// FindBySourceCodes resolves all codes with a single query.
	FindBySourceCodes(ctx context.Context, sourceCodes []string) (map[string][]*entities.CPTMapping, error)
	FindByTargetCode(ctx context.Context, targetCode string) ([]*entities.CPTMapping, error)
	// TopSourceCodes returns the source codes with the most mappings.
	TopSourceCodes(ctx context.Context, limit int) ([]string, error)
}
