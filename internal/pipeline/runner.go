// Package pipeline drives the scan-and-post flow: enumerate candidate
// documents per routing target, run each one through OCR, extraction,
// reconciliation and account resolution, and post the resulting draft
// vendor bill exactly once.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"apflow/internal/accounts"
	"apflow/internal/config"
	"apflow/internal/extract"
	"apflow/internal/logger"
	"apflow/internal/ocr"
	"apflow/internal/odoo"
	"apflow/internal/reconcile"
	"apflow/internal/state"
	"apflow/pkg/models"
)

// TargetSource supplies routing targets and the account mapping table.
// Backed by the routing sheet in production.
type TargetSource interface {
	LoadTargets(ctx context.Context) ([]models.RoutingTarget, error)
	AccountMapping(ctx context.Context) ([]accounts.MappingRow, error)
}

// TargetStats aggregates outcomes for one routing target within a run.
type TargetStats struct {
	TargetKey string `json:"target_key"`
	Scanned   int    `json:"scanned"`
	Created   int    `json:"created"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	LastDocID int64  `json:"last_doc_id"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the outcome of a full scan across all targets.
type RunResult struct {
	Targets int           `json:"targets"`
	Scanned int           `json:"scanned"`
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Errors  int           `json:"errors"`
	Elapsed time.Duration `json:"elapsed"`
	Stats   []TargetStats `json:"stats"`
}

// Runner owns one process's scan pipeline. Only one run may be active at a
// time; Run and RunOne reject concurrent invocations.
type Runner struct {
	cfg        *config.Config
	targets    TargetSource
	store      state.Store
	ocr        ocr.Service
	extractor  extract.Extractor
	assigner   extract.AccountAssigner
	reconciler *reconcile.Engine
	log        zerolog.Logger

	mu sync.Mutex
}

// NewRunner wires the pipeline collaborators together. The assigner may be
// nil; account resolution then relies on its non-model tiers.
func NewRunner(cfg *config.Config, targets TargetSource, store state.Store, ocrSvc ocr.Service, extractor extract.Extractor, assigner extract.AccountAssigner) *Runner {
	return &Runner{
		cfg:        cfg,
		targets:    targets,
		store:      store,
		ocr:        ocrSvc,
		extractor:  extractor,
		assigner:   assigner,
		reconciler: reconcile.NewEngine(),
		log:        logger.WithComponent("pipeline"),
	}
}

// Run scans every enabled routing target within the run budget. Targets are
// isolated from each other: a failing target is counted and the run moves
// on.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	const op = "pipeline.Run"

	if !r.mu.TryLock() {
		return nil, NewPipelineError(op, ErrRunInProgress, "")
	}
	defer r.mu.Unlock()

	start := time.Now()
	deadline := start.Add(r.cfg.RunBudget - r.cfg.TimeReserve)

	targets, err := r.targets.LoadTargets(ctx)
	if err != nil {
		return nil, NewPipelineError(op, err, "load routing targets")
	}
	mapping := r.loadMapping(ctx)

	result := &RunResult{Targets: len(targets)}
	for i := range targets {
		if time.Now().After(deadline) {
			r.log.Warn().Msg("Run budget exhausted, remaining targets deferred to the next run")
			break
		}
		target := targets[i]
		stats, err := r.processTarget(ctx, target, mapping, deadline)
		if err != nil {
			result.Errors++
			result.Stats = append(result.Stats, TargetStats{TargetKey: target.Key(), Error: err.Error()})
			r.log.Error().Err(err).Str("target_key", target.Key()).Msg("Target failed")
			continue
		}
		result.Scanned += stats.Scanned
		result.Created += stats.Created
		result.Skipped += stats.Skipped
		result.Errors += stats.Errors
		result.Stats = append(result.Stats, stats)
	}
	result.Elapsed = time.Since(start)
	r.log.Info().Int("targets", result.Targets).Int("scanned", result.Scanned).
		Int("created", result.Created).Int("skipped", result.Skipped).Int("errors", result.Errors).
		Dur("elapsed", result.Elapsed).Msg("Run finished")
	return result, nil
}

func (r *Runner) loadMapping(ctx context.Context) []accounts.MappingRow {
	mapping, err := r.targets.AccountMapping(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Account mapping load failed, mapping tier disabled for this run")
		return nil
	}
	return mapping
}

// newTargetContext builds the per-target collaborators. Expense accounts
// are loaded once per target; a load failure leaves the chart empty and the
// resolver falls through to its configured default.
func (r *Runner) newTargetContext(ctx context.Context, target models.RoutingTarget, mapping []accounts.MappingRow) (*targetContext, error) {
	client := odoo.NewClient(target.BaseURL, target.DB, target.Login, target.Password)

	if target.APFolderID == 0 {
		folderID, err := client.ResolveAPFolderID(ctx, target.CompanyID)
		if err != nil {
			return nil, err
		}
		target.APFolderID = folderID
	}

	chart, err := client.LoadExpenseAccounts(ctx, target.CompanyID)
	if err != nil {
		r.log.Warn().Err(err).Str("target_key", target.Key()).Msg("Expense chart load failed")
		chart = nil
	}
	return &targetContext{
		target:   target,
		key:      target.Key(),
		client:   client,
		accounts: chart,
		resolver: accounts.NewResolver(chart, mapping, target.CompanyID, client.DB, r.cfg.DefaultExpenseAccountID),
	}, nil
}

// processTarget scans one routing target. Documents above the stored
// watermark are processed oldest first, then already-visited documents are
// revisited. The watermark only advances past documents that finished
// without error.
func (r *Runner) processTarget(ctx context.Context, target models.RoutingTarget, mapping []accounts.MappingRow, deadline time.Time) (TargetStats, error) {
	tc, err := r.newTargetContext(ctx, target, mapping)
	if err != nil {
		return TargetStats{}, err
	}
	stats := TargetStats{TargetKey: tc.key}

	st, err := r.store.Load(ctx, tc.key)
	if err != nil {
		r.log.Warn().Err(err).Str("target_key", tc.key).Msg("State load failed, starting from zero watermark")
		st = models.RunState{}
	}
	stats.LastDocID = st.LastDocID

	docs, err := tc.client.ListCandidateDocuments(ctx, tc.target.CompanyID, tc.target.APFolderID,
		r.cfg.RenamePrefix, r.cfg.Pass1UnrenamedLimit, r.cfg.Pass2MarkedLimit)
	if err != nil {
		return TargetStats{}, err
	}

	var fresh, revisit []odoo.Document
	for _, d := range docs {
		if d.ID > st.LastDocID {
			fresh = append(fresh, d)
		} else {
			revisit = append(revisit, d)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })
	sort.Slice(revisit, func(i, j int) bool { return revisit[i].ID < revisit[j].ID })
	ordered := append(fresh, revisit...)

	for _, doc := range ordered {
		if time.Now().After(deadline) {
			r.log.Warn().Str("target_key", tc.key).Msg("Run budget exhausted, stopping target scan")
			break
		}
		stats.Scanned++
		outcome, err := r.processDocument(ctx, tc, doc, false)
		if err != nil {
			stats.Errors++
			r.log.Error().Err(err).Str("target_key", tc.key).Int64("doc_id", doc.ID).
				Msg("Document processing failed")
			continue
		}
		if outcome.Status == StatusOK {
			stats.Created++
		} else {
			stats.Skipped++
		}
		if doc.ID > stats.LastDocID {
			stats.LastDocID = doc.ID
		}
	}

	if err := r.store.Save(ctx, tc.key, models.RunState{LastDocID: stats.LastDocID}); err != nil {
		r.log.Warn().Err(err).Str("target_key", tc.key).Msg("State save failed, watermark not advanced")
	}
	return stats, nil
}

// RunOneRequest selects a single document for processing. Exactly one of
// DocID and AttachmentID must be set; TargetKey is required only when more
// than one routing target is enabled.
type RunOneRequest struct {
	TargetKey    string
	DocID        int64
	AttachmentID int64
	Reprocess    bool
}

// RunOneResult reports the processed document and its outcome.
type RunOneResult struct {
	TargetKey    string     `json:"target_key"`
	DocID        int64      `json:"doc_id"`
	DocName      string     `json:"doc_name"`
	AttachmentID int64      `json:"attachment_id"`
	Outcome      DocOutcome `json:"outcome"`
}

// RunOne processes a single document through the same flow as a full run,
// optionally clearing its completion marker first.
func (r *Runner) RunOne(ctx context.Context, req RunOneRequest) (*RunOneResult, error) {
	const op = "pipeline.RunOne"

	if req.DocID == 0 && req.AttachmentID == 0 {
		return nil, NewPipelineError(op, ErrMissingSelector, "")
	}
	if !r.mu.TryLock() {
		return nil, NewPipelineError(op, ErrRunInProgress, "")
	}
	defer r.mu.Unlock()

	target, err := r.selectTarget(ctx, req.TargetKey)
	if err != nil {
		return nil, err
	}
	tc, err := r.newTargetContext(ctx, target, r.loadMapping(ctx))
	if err != nil {
		return nil, NewPipelineError(op, err, "target setup")
	}

	var doc *odoo.Document
	if req.DocID != 0 {
		doc, err = tc.client.LoadDocument(ctx, tc.target.CompanyID, req.DocID)
	} else {
		doc, err = tc.client.FindDocumentByAttachment(ctx, tc.target.CompanyID, req.AttachmentID)
	}
	if err != nil {
		return nil, NewPipelineError(op, ErrDocumentNotFound, err.Error())
	}

	r.clearStaleBillLink(ctx, tc, doc)

	outcome, err := r.processDocument(ctx, tc, *doc, req.Reprocess)
	if err != nil {
		return nil, err
	}
	return &RunOneResult{
		TargetKey:    tc.key,
		DocID:        doc.ID,
		DocName:      doc.Name,
		AttachmentID: doc.AttachmentID,
		Outcome:      outcome,
	}, nil
}

// clearStaleBillLink removes a document's record link when the bill it
// points at no longer exists, so reprocessing can link a fresh one.
func (r *Runner) clearStaleBillLink(ctx context.Context, tc *targetContext, doc *odoo.Document) {
	if doc.ResModel != "account.move" || doc.ResID == 0 {
		return
	}
	exists, err := tc.client.BillExists(ctx, tc.target.CompanyID, doc.ResID)
	if err != nil || exists {
		return
	}
	r.log.Info().Int64("doc_id", doc.ID).Int64("stale_bill_id", doc.ResID).
		Msg("Clearing stale bill link from document")
	clearVals := map[string]any{"res_model": false, "res_id": false}
	if tc.client.HasDocumentField(ctx, "account_move_id") {
		clearVals["account_move_id"] = false
	}
	if tc.client.HasDocumentField(ctx, "invoice_id") {
		clearVals["invoice_id"] = false
	}
	if err := tc.client.Write(ctx, "documents.document", []int64{doc.ID}, clearVals); err != nil {
		r.log.Warn().Err(err).Int64("doc_id", doc.ID).Msg("Stale link clear failed")
	}
}

func (r *Runner) selectTarget(ctx context.Context, targetKey string) (models.RoutingTarget, error) {
	const op = "pipeline.selectTarget"

	targets, err := r.targets.LoadTargets(ctx)
	if err != nil {
		return models.RoutingTarget{}, NewPipelineError(op, err, "load routing targets")
	}
	if len(targets) == 0 {
		return models.RoutingTarget{}, NewPipelineError(op, ErrNoTargets, "")
	}
	if targetKey != "" {
		for _, t := range targets {
			if t.Key() == targetKey {
				return t, nil
			}
		}
		return models.RoutingTarget{}, NewPipelineError(op, ErrTargetNotFound, targetKey)
	}
	if len(targets) == 1 {
		return targets[0], nil
	}
	return models.RoutingTarget{}, NewPipelineError(op, ErrAmbiguousTarget, "")
}

// DocumentSummary is one AP folder document in a listing.
type DocumentSummary struct {
	DocID        int64  `json:"doc_id"`
	Name         string `json:"name"`
	AttachmentID int64  `json:"attachment_id"`
	CreateDate   string `json:"create_date,omitempty"`
}

// listDocsLimit bounds the folder listing.
const listDocsLimit = 5000

// ListAPDocuments lists every document in the target's AP folder, newest
// first, regardless of processing state.
func (r *Runner) ListAPDocuments(ctx context.Context, targetKey string) ([]DocumentSummary, error) {
	const op = "pipeline.ListAPDocuments"

	target, err := r.selectTarget(ctx, targetKey)
	if err != nil {
		return nil, err
	}
	client := odoo.NewClient(target.BaseURL, target.DB, target.Login, target.Password)
	folderID := target.APFolderID
	if folderID == 0 {
		folderID, err = client.ResolveAPFolderID(ctx, target.CompanyID)
		if err != nil {
			return nil, NewPipelineError(op, err, "resolve folder")
		}
	}

	rows, err := client.SearchRead(ctx, "documents.document",
		[]any{
			odoo.Cond("folder_id", "=", folderID),
			odoo.Cond("is_folder", "=", false),
			odoo.Cond("attachment_id", "!=", false),
		},
		[]string{"id", "name", "attachment_id", "create_date"},
		odoo.KwWithCompany(target.CompanyID, map[string]any{"limit": listDocsLimit, "order": "id desc"}))
	if err != nil {
		return nil, NewPipelineError(op, err, "list documents")
	}

	out := make([]DocumentSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, DocumentSummary{
			DocID:        row.Int64("id"),
			Name:         row.Str("name"),
			AttachmentID: row.M2O("attachment_id"),
			CreateDate:   row.Str("create_date"),
		})
	}
	return out, nil
}
