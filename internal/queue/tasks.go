package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/WilliamAGH/java-chat-sub001/internal/audit"
	"github.com/WilliamAGH/java-chat-sub001/internal/document"
	"github.com/WilliamAGH/java-chat-sub001/internal/ingest"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

const (
	TaskIngestSource = "ingest:source"
	TaskAuditURL     = "audit:url"
)

// IngestSourcePayload describes one source to ingest in the background. Path
// points at the local file holding the content; URL is the source identity
// chunks hash against.
type IngestSourcePayload struct {
	URL     string `json:"url"`
	Path    string `json:"path"`
	Title   string `json:"title,omitempty"`
	Package string `json:"package,omitempty"`
	DocSet  string `json:"doc_set,omitempty"`
	DocType string `json:"doc_type,omitempty"`
	PDF     bool   `json:"pdf"`
	Force   bool   `json:"force"`
}

type AuditURLPayload struct {
	URL string `json:"url"`
}

// NewIngestSourceTask queues one source for ingestion on the critical queue.
func NewIngestSourceTask(p IngestSourcePayload) (*asynq.Task, error) {
	if p.URL == "" {
		return nil, fmt.Errorf("ingest task needs a url")
	}
	if p.Path == "" {
		return nil, fmt.Errorf("ingest task needs a local path")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding ingest payload: %w", err)
	}

	return asynq.NewTask(
		TaskIngestSource,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// NewAuditURLTask queues a reconciliation audit on the low-priority queue.
func NewAuditURLTask(url string) (*asynq.Task, error) {
	if url == "" {
		return nil, fmt.Errorf("audit task needs a url")
	}
	payload, err := json.Marshal(AuditURLPayload{URL: url})
	if err != nil {
		return nil, fmt.Errorf("encoding audit payload: %w", err)
	}

	return asynq.NewTask(
		TaskAuditURL,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("low"),
	), nil
}

// Ingestor is the pipeline slice the worker drives.
type Ingestor interface {
	ProcessAndStore(ctx context.Context, doc document.Document) (ingest.Result, error)
	ProcessPDFAndStoreWithPages(ctx context.Context, doc document.Document, path string) (ingest.Result, error)
	ReingestSource(ctx context.Context, doc document.Document, pdfPath string) (ingest.Result, error)
	Upsert(ctx context.Context, docs []ingest.ChunkDocument) error
}

// Auditor runs store-versus-filesystem reconciliation.
type Auditor interface {
	AuditByURL(ctx context.Context, url string) (audit.Report, error)
}

// TaskProcessor owns the asynq handlers.
type TaskProcessor struct {
	pipeline Ingestor
	auditor  Auditor
}

func NewTaskProcessor(pipeline Ingestor, auditor Auditor) *TaskProcessor {
	return &TaskProcessor{pipeline: pipeline, auditor: auditor}
}

// Ingest runs one payload through the pipeline: force re-ingest, PDF
// extraction, or plain text read from payload.Path. Non-force paths upsert
// the surviving chunk documents. The CLI calls this directly for inline
// ingests; HandleIngestSource calls it for queued ones.
func (p *TaskProcessor) Ingest(ctx context.Context, payload IngestSourcePayload) (ingest.Result, error) {
	doc := document.Document{
		URL:     payload.URL,
		Title:   payload.Title,
		Package: payload.Package,
		DocSet:  payload.DocSet,
		DocType: payload.DocType,
	}

	pdfPath := ""
	if payload.PDF {
		pdfPath = payload.Path
	} else {
		content, err := os.ReadFile(payload.Path)
		if err != nil {
			return ingest.Result{}, fmt.Errorf("reading source %s: %w", payload.Path, err)
		}
		doc.Content = string(content)
	}

	var res ingest.Result
	var err error
	switch {
	case payload.Force:
		res, err = p.pipeline.ReingestSource(ctx, doc, pdfPath)
	case payload.PDF:
		res, err = p.pipeline.ProcessPDFAndStoreWithPages(ctx, doc, pdfPath)
		if err == nil {
			err = p.pipeline.Upsert(ctx, res.Documents)
		}
	default:
		res, err = p.pipeline.ProcessAndStore(ctx, doc)
		if err == nil {
			err = p.pipeline.Upsert(ctx, res.Documents)
		}
	}
	if err != nil {
		return ingest.Result{}, fmt.Errorf("ingesting %s: %w", payload.URL, err)
	}
	return res, nil
}

// HandleIngestSource ingests one source end to end. A malformed payload is
// dropped instead of retried; pipeline errors surface so asynq retries with
// the ingest markers still unwritten.
func (p *TaskProcessor) HandleIngestSource(ctx context.Context, t *asynq.Task) error {
	var payload IngestSourcePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding ingest payload: %v: %w", err, asynq.SkipRetry)
	}

	res, err := p.Ingest(ctx, payload)
	if err != nil {
		return err
	}

	logger.Info("Ingest task finished",
		"url", payload.URL,
		"chunks", res.TotalChunks,
		"skipped", res.SkippedChunks,
		"upserted", len(res.Documents))
	return nil
}

// HandleAuditURL runs one audit. Findings are logged, never retried; only
// transport failures count as task errors.
func (p *TaskProcessor) HandleAuditURL(ctx context.Context, t *asynq.Task) error {
	var payload AuditURLPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding audit payload: %v: %w", err, asynq.SkipRetry)
	}

	report, err := p.auditor.AuditByURL(ctx, payload.URL)
	if err != nil {
		return fmt.Errorf("auditing %s: %w", payload.URL, err)
	}
	if !report.OK {
		logger.Warn("Audit found drift",
			"url", payload.URL,
			"missing", report.MissingCount,
			"duplicates", len(report.Duplicates))
	}
	return nil
}
