package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// DefaultMultipartThreshold is the payload size above which archives go
// through the multipart uploader.
const DefaultMultipartThreshold = 8 * 1024 * 1024

// ArchiverConfig controls object naming and upload strategy.
type ArchiverConfig struct {
	Instance           string
	Prefix             string
	MultipartThreshold int
	PartSize           int64
}

// OutcomeArchiver implements domain.Archiver. It writes outcomes older than
// the cutoff as one JSONL object, confirms the object landed, then deletes
// the rows from the primary store.
type OutcomeArchiver struct {
	writer   domain.BlobWriter
	checker  domain.BlobChecker
	outcomes domain.OutcomeStore
	audit    domain.AuditStore
	cfg      ArchiverConfig
	logger   *slog.Logger
}

// NewOutcomeArchiver creates an OutcomeArchiver. checker may be nil to skip
// the post-upload check.
func NewOutcomeArchiver(
	writer domain.BlobWriter,
	checker domain.BlobChecker,
	outcomes domain.OutcomeStore,
	audit domain.AuditStore,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *OutcomeArchiver {
	if cfg.Prefix == "" {
		cfg.Prefix = "archive"
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = DefaultMultipartThreshold
	}
	return &OutcomeArchiver{
		writer:   writer,
		checker:  checker,
		outcomes: outcomes,
		audit:    audit,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveOutcomes returns how many outcomes were moved to the blob store.
// Nothing is deleted unless the upload succeeded.
func (a *OutcomeArchiver) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	outcomes, err := a.outcomes.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(outcomes) == 0 {
		a.logger.InfoContext(ctx, "nothing to archive", slog.Time("before", before))
		return 0, nil
	}

	buf, err := marshalJSONL(outcomes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
	}

	path := a.objectPath(before)
	if len(buf) > a.cfg.MultipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.cfg.PartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
	}

	if a.checker != nil {
		ok, err := a.checker.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive outcomes verify: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive outcomes verify: %s missing after upload", path)
		}
	}

	deleted, err := a.outcomes.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes delete: %w", err)
	}

	count := int64(len(outcomes))
	if deleted != count {
		a.logger.WarnContext(ctx, "archived and deleted counts differ",
			slog.Int64("archived", count),
			slog.Int64("deleted", deleted),
		)
	}
	a.logger.InfoContext(ctx, "outcomes archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int("bytes", len(buf)),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.outcomes", map[string]any{
			"path":    path,
			"count":   count,
			"deleted": deleted,
			"before":  before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive outcomes audit: %w", err)
		}
	}
	return count, nil
}

// objectPath is <prefix>/outcomes/<instance>/YYYY-MM/<cutoff unix>.jsonl so
// repeated runs within a month never overwrite each other.
func (a *OutcomeArchiver) objectPath(before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s/outcomes/%s/%s/%d.jsonl",
		a.cfg.Prefix, a.cfg.Instance, before.Format("2006-01"), before.Unix())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*OutcomeArchiver)(nil)
