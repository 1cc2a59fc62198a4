package jobqueue

import (
	"context"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/panoptikon-gw/internal/apierr"
	"github.com/mesh-intelligence/panoptikon-gw/internal/filescan"
	"github.com/mesh-intelligence/panoptikon-gw/internal/indexwriter"
	"github.com/mesh-intelligence/panoptikon-gw/internal/pql"
)

// WriterForFunc resolves the Writer Actor for a db key, mirroring
// continuousscan.WriterForFunc so the runner can stay independent of
// indexwriter.Supervisor's concrete type.
type WriterForFunc func(ctx context.Context, dbKey string) (filescan.WriterHandle, error)

// ScanConfigFunc resolves the scan extensions configured for a db key,
// letting the runner build filescan.ScanOptions without importing the
// config package's TOML shape directly.
type ScanConfigFunc func(dbKey string) filescan.ExtensionSet

// FilterConfigFunc resolves a db key's configured file-scan filter (from
// filescan_filter/job_filters) into a compiled pql.Expr, or nil if none is
// configured. The same expression gates both accepting new files and
// pruning already-indexed ones, since both answer the same question:
// does this path still satisfy the configured rule.
type FilterConfigFunc func(dbKey string) pql.Expr

// DefaultRunner dispatches each JobKind to the component that actually
// performs the work, playing the role of JobRunnerActor's per-variant match
// arm in the original.
type DefaultRunner struct {
	WriterFor  WriterForFunc
	ScanConfig ScanConfigFunc
	FilterFor  FilterConfigFunc
}

func (r *DefaultRunner) Run(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindFolderRescan, KindFolderUpdate:
		return r.runFolderScan(ctx, job)
	case KindJobDataDeletion:
		return r.runJobDataDeletion(ctx, job)
	case KindDataDeletion:
		return r.runDataDeletion(ctx, job)
	case KindDataExtraction:
		return apierr.New(apierr.KindBadRequest, "data extraction requires an inference runtime outside this core")
	default:
		return apierr.New(apierr.KindBadRequest, "unknown job kind: "+string(job.Kind))
	}
}

func (r *DefaultRunner) runFolderScan(ctx context.Context, job Job) error {
	path, ok := job.Params.Metadata["path"]
	if !ok {
		return apierr.New(apierr.KindBadRequest, "folder scan job missing path")
	}

	writer, err := r.WriterFor(ctx, job.Params.DBKey)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "resolving writer", err)
	}

	var excludeRoots []string
	if raw, ok := job.Params.Metadata["exclude_roots"]; ok && raw != "" {
		excludeRoots = strings.Split(raw, ",")
	}

	var filter pql.Expr
	if r.FilterFor != nil {
		filter = r.FilterFor(job.Params.DBKey)
	}

	_, err = filescan.Scan(ctx, filescan.ScanOptions{
		IncludeRoots: []string{path},
		ExcludeRoots: excludeRoots,
		Extensions:   r.ScanConfig(job.Params.DBKey),
		Filter:       filter,
		PruneFilter:  filter,
		Writer:       writer,
		DBKey:        job.Params.DBKey,
		Cancel:       filescan.NewCancelToken(ctx),
	})
	if err != nil {
		return err
	}

	if job.Kind != KindFolderUpdate {
		return nil
	}

	// A folder-set change (root added/removed/flipped include<->exclude)
	// needs the files table reconciled against the new folders table
	// contents, not just a rescan of the one folder that changed.
	if _, err := writer.Submit(ctx, indexwriter.DeleteFilesUnderExcludedFolders()); err != nil {
		return err
	}
	_, err = writer.Submit(ctx, indexwriter.DeleteFilesNotUnderIncludedFolders())
	return err
}

func (r *DefaultRunner) runJobDataDeletion(ctx context.Context, job Job) error {
	logIDStr, ok := job.Params.Metadata["log_id"]
	if !ok {
		return apierr.New(apierr.KindBadRequest, "job data deletion missing log_id")
	}
	logID, err := strconv.ParseInt(logIDStr, 10, 64)
	if err != nil {
		return apierr.Wrap(apierr.KindBadRequest, "parsing log_id", err)
	}

	writer, err := r.WriterFor(ctx, job.Params.DBKey)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "resolving writer", err)
	}

	_, err = writer.Submit(ctx, indexwriter.DeleteJobData(logID))
	return err
}

func (r *DefaultRunner) runDataDeletion(ctx context.Context, job Job) error {
	prefix, ok := job.Params.Metadata["prefix"]
	if !ok {
		return apierr.New(apierr.KindBadRequest, "data deletion job missing prefix")
	}

	writer, err := r.WriterFor(ctx, job.Params.DBKey)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "resolving writer", err)
	}

	if _, err := writer.Submit(ctx, indexwriter.DeleteFilesUnderPrefix(prefix)); err != nil {
		return err
	}

	_, err = writer.Submit(ctx, indexwriter.DeleteItemsWithoutFiles())
	return err
}
