package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/comprehendmedical"
	"github.com/aws/aws-sdk-go-v2/service/comprehendmedical/types"
	"github.com/sony/gobreaker"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcoding/pkg/config"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

type comprehendAPI interface {
	InferICD10CM(ctx context.Context, in *comprehendmedical.InferICD10CMInput, optFns ...func(*comprehendmedical.Options)) (*comprehendmedical.InferICD10CMOutput, error)
	InferSNOMEDCT(ctx context.Context, in *comprehendmedical.InferSNOMEDCTInput, optFns ...func(*comprehendmedical.Options)) (*comprehendmedical.InferSNOMEDCTOutput, error)
	DetectEntitiesV2(ctx context.Context, in *comprehendmedical.DetectEntitiesV2Input, optFns ...func(*comprehendmedical.Options)) (*comprehendmedical.DetectEntitiesV2Output, error)
}

// ComprehendAdapter implements EntityExtractionProvider on Amazon Comprehend Medical
type ComprehendAdapter struct {
	api     comprehendAPI
	breaker *gobreaker.CircuitBreaker
}

// NewComprehendAdapter builds an adapter from extraction config
func NewComprehendAdapter(ctx context.Context, cfg *config.ExtractionConfig) (providers.EntityExtractionProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := comprehendmedical.NewFromConfig(awsCfg, func(o *comprehendmedical.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newComprehendAdapter(client), nil
}

func newComprehendAdapter(api comprehendAPI) *ComprehendAdapter {
	return &ComprehendAdapter{
		api: api,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "comprehend-medical",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// InferDiagnosisCodes links spans to ICD-10-CM codes, one top concept per entity
func (a *ComprehendAdapter) InferDiagnosisCodes(ctx context.Context, text string) ([]providers.CodeMatch, error) {
	out, err := a.call(ctx, "InferICD10CM", func() (interface{}, error) {
		return a.api.InferICD10CM(ctx, &comprehendmedical.InferICD10CMInput{Text: aws.String(text)})
	})
	if err != nil {
		return nil, err
	}

	resp := out.(*comprehendmedical.InferICD10CMOutput)
	matches := make([]providers.CodeMatch, 0, len(resp.Entities))
	for _, entity := range resp.Entities {
		if len(entity.ICD10CMConcepts) == 0 {
			continue
		}
		concept := entity.ICD10CMConcepts[0]
		traits := make([]string, 0, len(entity.Traits))
		for _, t := range entity.Traits {
			traits = append(traits, string(t.Name))
		}
		matches = append(matches, providers.CodeMatch{
			Code:        aws.ToString(concept.Code),
			Description: aws.ToString(concept.Description),
			Score:       float64(aws.ToFloat32(concept.Score)),
			Text:        aws.ToString(entity.Text),
			BeginOffset: int(aws.ToInt32(entity.BeginOffset)),
			EndOffset:   int(aws.ToInt32(entity.EndOffset)),
			Traits:      traits,
		})
	}
	return matches, nil
}

// InferProcedureCodes links procedure spans to SNOMED-CT concepts
func (a *ComprehendAdapter) InferProcedureCodes(ctx context.Context, text string) ([]providers.CodeMatch, error) {
	out, err := a.call(ctx, "InferSNOMEDCT", func() (interface{}, error) {
		return a.api.InferSNOMEDCT(ctx, &comprehendmedical.InferSNOMEDCTInput{Text: aws.String(text)})
	})
	if err != nil {
		return nil, err
	}

	resp := out.(*comprehendmedical.InferSNOMEDCTOutput)
	matches := make([]providers.CodeMatch, 0, len(resp.Entities))
	for _, entity := range resp.Entities {
		if entity.Category != types.SNOMEDCTEntityCategoryTestTreatmentProcedure || len(entity.SNOMEDCTConcepts) == 0 {
			continue
		}
		concept := entity.SNOMEDCTConcepts[0]
		traits := make([]string, 0, len(entity.Traits))
		for _, t := range entity.Traits {
			traits = append(traits, string(t.Name))
		}
		matches = append(matches, providers.CodeMatch{
			Code:        aws.ToString(concept.Code),
			Description: aws.ToString(concept.Description),
			Score:       float64(aws.ToFloat32(concept.Score)),
			Text:        aws.ToString(entity.Text),
			BeginOffset: int(aws.ToInt32(entity.BeginOffset)),
			EndOffset:   int(aws.ToInt32(entity.EndOffset)),
			Traits:      traits,
		})
	}
	return matches, nil
}

// DetectEntities returns all medical entities with their traits
func (a *ComprehendAdapter) DetectEntities(ctx context.Context, text string) ([]providers.DetectedEntity, error) {
	out, err := a.call(ctx, "DetectEntitiesV2", func() (interface{}, error) {
		return a.api.DetectEntitiesV2(ctx, &comprehendmedical.DetectEntitiesV2Input{Text: aws.String(text)})
	})
	if err != nil {
		return nil, err
	}

	resp := out.(*comprehendmedical.DetectEntitiesV2Output)
	entities := make([]providers.DetectedEntity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		traits := make([]string, 0, len(e.Traits))
		for _, t := range e.Traits {
			traits = append(traits, string(t.Name))
		}
		entities = append(entities, providers.DetectedEntity{
			Text:        aws.ToString(e.Text),
			Category:    string(e.Category),
			Type:        string(e.Type),
			Score:       float64(aws.ToFloat32(e.Score)),
			BeginOffset: int(aws.ToInt32(e.BeginOffset)),
			EndOffset:   int(aws.ToInt32(e.EndOffset)),
			Traits:      traits,
		})
	}
	return entities, nil
}

func (a *ComprehendAdapter) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	out, err := a.breaker.Execute(fn)
	logger := observability.LoggerFromContext(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("operation", op).Dur("duration", time.Since(start)).Msg("comprehend medical call failed")
		return nil, apperrors.NewExternalError(fmt.Sprintf("comprehend medical %s failed", op), err)
	}
	logger.Debug().Str("operation", op).Dur("duration", time.Since(start)).Msg("comprehend medical call finished")
	return out, nil
}
