// Package importer submits detections in bulk from hash list files.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/internal/registry"
	"golang.org/x/sync/semaphore"
)

// Submitter reports a single detection on behalf of the importing caller.
type Submitter interface {
	ReportDetection(ctx context.Context, fileHash, timestamp string) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, fileHash, timestamp string) error

func (f SubmitterFunc) ReportDetection(ctx context.Context, fileHash, timestamp string) error {
	return f(ctx, fileHash, timestamp)
}

// Failure is a record the submitter rejected.
type Failure struct {
	Record Record
	Err    error
}

// Result summarizes an import run.
type Result struct {
	Total     int
	Submitted int
	Failed    []Failure
}

// Importer submits records with bounded concurrency.
type Importer struct {
	submitter Submitter
	sem       *semaphore.Weighted
	logger    *logrus.Logger
}

// NewImporter initializes a new Importer running at most maxConcurrency
// submissions at once.
func NewImporter(submitter Submitter, maxConcurrency int64, logger *logrus.Logger) *Importer {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Importer{
		submitter: submitter,
		sem:       semaphore.NewWeighted(maxConcurrency),
		logger:    logger,
	}
}

// Import submits every record. Individual failures are collected in the
// result; the first registry.ErrUnauthorized rejection stops the run.
func (im *Importer) Import(ctx context.Context, records []Record) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		result  = Result{Total: len(records)}
		fatal   error
		stopped bool
	)

	for _, record := range records {
		// Acquire semaphore to limit concurrency
		if err := im.sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(rec Record) {
			defer wg.Done()
			defer im.sem.Release(1)

			err := im.submitter.ReportDetection(ctx, rec.FileHash, rec.Timestamp)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				result.Submitted++
				return
			}
			if stopped && errors.Is(err, context.Canceled) {
				return
			}

			im.logger.WithError(err).WithField("file_hash", rec.FileHash).Error("Failed to report detection")
			result.Failed = append(result.Failed, Failure{Record: rec, Err: err})
			if errors.Is(err, registry.ErrUnauthorized) && !stopped {
				stopped = true
				fatal = err
				cancel()
			}
		}(record)
	}

	wg.Wait()

	if fatal != nil {
		return result, fmt.Errorf("import aborted: %w", fatal)
	}
	if err := ctx.Err(); err != nil && !stopped {
		return result, err
	}

	im.logger.WithFields(logrus.Fields{
		"record_count": result.Total,
		"submitted":    result.Submitted,
		"failed":       len(result.Failed),
	}).Info("Imported detections")
	return result, nil
}
