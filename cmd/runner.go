package cmd

import (
	"context"
	"fmt"

	"apflow/internal/config"
	"apflow/internal/extract"
	"apflow/internal/logger"
	"apflow/internal/ocr"
	"apflow/internal/pipeline"
	"apflow/internal/routing"
	"apflow/internal/state"
)

// buildRunner wires the full pipeline from configuration. The returned
// cleanup closes the OCR and extraction clients.
func buildRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, func(), error) {
	log := logger.WithComponent("cmd")

	sheet, err := routing.NewSheet(ctx, cfg.SpreadsheetID, cfg.RoutingSheetName, cfg.MappingSheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("routing sheet: %w", err)
	}

	var store state.Store
	if cfg.StateBucket != "" {
		store, err = state.NewGCSStore(ctx, cfg.StateBucket, cfg.StatePrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("state store: %w", err)
		}
	} else {
		log.Warn().Msg("STATE_BUCKET not set, run state is kept in memory and lost on exit")
		store = state.NewMemoryStore()
	}

	ocrSvc, err := ocr.NewVisionService(ctx, ocr.Options{
		LanguageHints: cfg.VisionLangHints,
		MinTextLen:    cfg.OCRMinTextLen,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ocr service: %w", err)
	}

	var (
		primary  extract.Extractor
		assigner extract.AccountAssigner
	)
	switch cfg.ExtractorBackend {
	case "documentai":
		primary, err = extract.NewDocumentAIExtractor(ctx, extract.DocumentAIConfig{
			ProjectID:   cfg.GoogleCloudProject,
			Location:    cfg.GoogleCloudLocation,
			ProcessorID: cfg.DocumentAIProcessorID,
		})
	default:
		var gemini *extract.GeminiExtractor
		gemini, err = extract.NewGeminiExtractor(ctx, cfg.GoogleCloudProject, cfg.GoogleCloudLocation, cfg.GeminiModel)
		primary = gemini
		assigner = gemini
	}
	if err != nil {
		ocrSvc.Close()
		return nil, nil, fmt.Errorf("extractor: %w", err)
	}

	chain := extract.Chain{primary}
	if cfg.OpenAIAPIKey != "" {
		fallback, err := extract.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIFallbackModel)
		if err != nil {
			ocrSvc.Close()
			primary.Close()
			return nil, nil, fmt.Errorf("fallback extractor: %w", err)
		}
		chain = append(chain, fallback)
	}

	cleanup := func() {
		chain.Close()
		ocrSvc.Close()
	}
	return pipeline.NewRunner(cfg, sheet, store, ocrSvc, chain, assigner), cleanup, nil
}
