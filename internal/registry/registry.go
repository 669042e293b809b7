package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/internal/database"
	"github.com/y0ug/detreg/internal/database/models"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("detection not found")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrOwnerMismatch   = errors.New("owner mismatch")
)

// Store persists registry state.
type Store interface {
	SetOwner(ctx context.Context, owner string) error
	GetOwner(ctx context.Context) (string, error)

	AddReporter(ctx context.Context, reporter models.Reporter) error
	IsReporter(ctx context.Context, id string) (bool, error)
	ListReporters(ctx context.Context) ([]models.Reporter, error)

	PutDetection(ctx context.Context, detection models.Detection) error
	GetDetection(ctx context.Context, fileHash string) (models.Detection, error)

	GetTotalDetections(ctx context.Context) (int, error)
	GetTotalConfirmed(ctx context.Context) (int, error)
	GetTotalReporters(ctx context.Context) (int, error)
}

// Stats summarizes the registry contents.
type Stats struct {
	Owner               string
	TotalDetections     int
	ConfirmedDetections int
	TrustedReporters    int
}

// Registry records ransomware detections reported by trusted identities and
// lets the owner confirm them. Every operation is serialized by one mutex.
type Registry struct {
	mu     sync.Mutex
	owner  string
	store  Store
	sinks  MultiSink
	logger *logrus.Logger
	now    func() time.Time
}

// New opens the registry on store with cfg.Owner as owner. The owner is
// recorded on first use; reopening with a different owner fails with
// ErrOwnerMismatch.
func New(ctx context.Context, cfg Config, store Store, logger *logrus.Logger, sinks ...EventSink) (*Registry, error) {
	if cfg.Owner == "" {
		return nil, fmt.Errorf("%w: owner is empty", ErrInvalidIdentity)
	}

	r := &Registry{
		owner:  cfg.Owner,
		store:  store,
		sinks:  MultiSink(sinks),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	stored, err := store.GetOwner(ctx)
	switch {
	case errors.Is(err, database.ErrOwnerNotSet):
		if err := store.SetOwner(ctx, cfg.Owner); err != nil {
			return nil, fmt.Errorf("failed to record owner: %w", err)
		}
		logger.WithField("owner", cfg.Owner).Info("Registry created")
	case err != nil:
		return nil, fmt.Errorf("failed to load owner: %w", err)
	case stored != cfg.Owner:
		return nil, fmt.Errorf("%w: registry is owned by %s, configured owner is %s", ErrOwnerMismatch, stored, cfg.Owner)
	default:
		logger.WithField("owner", cfg.Owner).Info("Registry opened")
	}

	err = store.AddReporter(ctx, models.Reporter{
		ID:      cfg.Owner,
		AddedBy: cfg.Owner,
		AddedAt: r.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to trust owner: %w", err)
	}

	return r, nil
}

// Owner returns the identity fixed at construction.
func (r *Registry) Owner() string {
	return r.owner
}

// AddTrustedReporter marks reporter as trusted. Only the owner may call it.
// Adding an already trusted reporter keeps its original entry.
func (r *Registry) AddTrustedReporter(ctx context.Context, caller, reporter string) error {
	r.mu.Lock()
	if caller != r.owner {
		r.mu.Unlock()
		err := fmt.Errorf("%w: only the owner may add trusted reporters", ErrUnauthorized)
		r.deny(ctx, OpAddTrustedReporter, caller, reporter, err)
		return err
	}
	if reporter == "" {
		r.mu.Unlock()
		err := fmt.Errorf("%w: reporter is empty", ErrInvalidIdentity)
		r.deny(ctx, OpAddTrustedReporter, caller, reporter, err)
		return err
	}

	err := r.store.AddReporter(ctx, models.Reporter{
		ID:      reporter,
		AddedBy: caller,
		AddedAt: r.now(),
	})
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to add reporter %s: %w", reporter, err)
	}

	r.logger.WithFields(logrus.Fields{
		"caller":   caller,
		"reporter": reporter,
	}).Info("Trusted reporter added")
	r.sinks.Publish(ctx, newEvent(EventReporterAdded, OpAddTrustedReporter, caller, reporter))
	return nil
}

// ReportDetection records fileHash with the caller-supplied timestamp.
// The caller must be trusted. An existing record is overwritten and loses
// its confirmation.
func (r *Registry) ReportDetection(ctx context.Context, caller, fileHash, timestamp string) error {
	r.mu.Lock()
	trusted, err := r.isTrusted(ctx, caller)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to check reporter %s: %w", caller, err)
	}
	if !trusted {
		r.mu.Unlock()
		err := fmt.Errorf("%w: %s is not a trusted reporter", ErrUnauthorized, caller)
		r.deny(ctx, OpReportDetection, caller, fileHash, err)
		return err
	}
	// Stores key detections by hash, bolt rejects an empty key.
	if fileHash == "" {
		r.mu.Unlock()
		err := fmt.Errorf("%w: file hash is empty", ErrInvalidIdentity)
		r.deny(ctx, OpReportDetection, caller, fileHash, err)
		return err
	}

	prev, err := r.store.GetDetection(ctx, fileHash)
	if err != nil && !errors.Is(err, database.ErrDetectionNotFound) {
		r.mu.Unlock()
		return fmt.Errorf("failed to load detection %s: %w", fileHash, err)
	}

	err = r.store.PutDetection(ctx, models.Detection{
		FileHash:    fileHash,
		Timestamp:   timestamp,
		Reporter:    caller,
		IsConfirmed: false,
		ReportedAt:  r.now(),
	})
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to store detection %s: %w", fileHash, err)
	}

	fields := logrus.Fields{
		"caller":    caller,
		"file_hash": fileHash,
		"timestamp": timestamp,
	}
	if prev.IsConfirmed {
		r.logger.WithFields(fields).WithField("previous_reporter", prev.Reporter).
			Warn("Confirmed detection overwritten by a new report")
	} else {
		r.logger.WithFields(fields).Info("Detection reported")
	}

	event := newEvent(EventDetectionReported, OpReportDetection, caller, fileHash)
	event.Timestamp = timestamp
	r.sinks.Publish(ctx, event)
	return nil
}

// ConfirmDetection marks the detection for fileHash as confirmed. Only the
// owner may call it and the detection must exist.
func (r *Registry) ConfirmDetection(ctx context.Context, caller, fileHash string) error {
	r.mu.Lock()
	if caller != r.owner {
		r.mu.Unlock()
		err := fmt.Errorf("%w: only the owner may confirm detections", ErrUnauthorized)
		r.deny(ctx, OpConfirmDetection, caller, fileHash, err)
		return err
	}

	d, err := r.store.GetDetection(ctx, fileHash)
	if errors.Is(err, database.ErrDetectionNotFound) {
		r.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrNotFound, fileHash)
		r.deny(ctx, OpConfirmDetection, caller, fileHash, err)
		return err
	}
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to load detection %s: %w", fileHash, err)
	}

	if !d.IsConfirmed {
		d.IsConfirmed = true
		d.ConfirmedAt = r.now()
		if err := r.store.PutDetection(ctx, d); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("failed to confirm detection %s: %w", fileHash, err)
		}
	}
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"caller":    caller,
		"file_hash": fileHash,
		"reporter":  d.Reporter,
	}).Info("Detection confirmed")

	event := newEvent(EventDetectionConfirmed, OpConfirmDetection, caller, fileHash)
	event.Timestamp = d.Timestamp
	r.sinks.Publish(ctx, event)
	return nil
}

// GetDetection returns the detection for fileHash, or the zero Detection
// when none was reported.
func (r *Registry) GetDetection(ctx context.Context, fileHash string) (models.Detection, error) {
	d, _, err := r.LookupDetection(ctx, fileHash)
	return d, err
}

// LookupDetection is GetDetection with an explicit presence flag.
func (r *Registry) LookupDetection(ctx context.Context, fileHash string) (models.Detection, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.store.GetDetection(ctx, fileHash)
	if errors.Is(err, database.ErrDetectionNotFound) {
		return models.Detection{}, false, nil
	}
	if err != nil {
		return models.Detection{}, false, fmt.Errorf("failed to load detection %s: %w", fileHash, err)
	}
	return d, true, nil
}

// IsTrustedReporter reports whether identity may report detections.
func (r *Registry) IsTrustedReporter(ctx context.Context, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isTrusted(ctx, identity)
}

// ListTrustedReporters returns every trusted reporter, owner included, in
// the order they were added.
func (r *Registry) ListTrustedReporters(ctx context.Context) ([]models.Reporter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.ListReporters(ctx)
}

// Stats counts detections and reporters.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Owner: r.owner}
	var err error
	if stats.TotalDetections, err = r.store.GetTotalDetections(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count detections: %w", err)
	}
	if stats.ConfirmedDetections, err = r.store.GetTotalConfirmed(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count confirmed detections: %w", err)
	}
	if stats.TrustedReporters, err = r.store.GetTotalReporters(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count reporters: %w", err)
	}
	return stats, nil
}

// isTrusted must be called with r.mu held.
func (r *Registry) isTrusted(ctx context.Context, identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	if identity == r.owner {
		return true, nil
	}
	return r.store.IsReporter(ctx, identity)
}

// deny logs and publishes a rejected operation. Must be called without r.mu held.
func (r *Registry) deny(ctx context.Context, op Operation, caller, subject string, reason error) {
	r.logger.WithFields(logrus.Fields{
		"operation": op,
		"caller":    caller,
		"subject":   subject,
	}).WithError(reason).Warn("Registry operation denied")

	event := newEvent(EventDenied, op, caller, subject)
	event.Reason = reason.Error()
	r.sinks.Publish(ctx, event)
}
