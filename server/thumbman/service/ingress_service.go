package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	assetdomain "assethub/server/assetman/domain"
	"assethub/server/common/log"
	"assethub/server/thumbman/domain"
)

var processableImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

var processableImageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".gif":  {},
}

type assetLookup interface {
	GetByPermanentPath(ctx context.Context, path string) (assetdomain.AssetRecord, error)
	GetByID(ctx context.Context, id string) (assetdomain.AssetRecord, error)
	Save(ctx context.Context, item assetdomain.AssetRecord) (assetdomain.AssetRecord, error)
}

type derivativeGenerator interface {
	GenerateDerivatives(ctx context.Context, permanentPath string) (map[string]assetdomain.DerivativeDescriptor, []domain.SizeFailure, error)
}

// eventDeduper marks an event id as seen exactly once. First caller wins;
// Forget releases a mark so the source's retry after a transport failure is
// not mistaken for a duplicate.
type eventDeduper interface {
	MarkOnce(ctx context.Context, eventID string) (first bool, err error)
	Forget(ctx context.Context, eventID string) error
}

type outcomeNotifier interface {
	Publish(ctx context.Context, outcome domain.IngressOutcome) error
}

// IngressService consumes "object finalized" notifications and drives
// derivative generation. Delivery is at least once; everything here is
// written to make a re-delivered event a no-op.
type IngressService struct {
	assets       assetLookup
	generator    derivativeGenerator
	dedup        eventDeduper
	notifier     outcomeNotifier
	sourceBucket string
	timeout      time.Duration
}

func NewIngressService(assets assetLookup, generator derivativeGenerator, dedup eventDeduper, notifier outcomeNotifier, sourceBucket string, timeout time.Duration) *IngressService {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &IngressService{
		assets:       assets,
		generator:    generator,
		dedup:        dedup,
		notifier:     notifier,
		sourceBucket: sourceBucket,
		timeout:      timeout,
	}
}

// HandleStorageEvent returns an outcome for every business result, including
// bad inputs: re-delivering those would not change anything, so they are
// acknowledged and recorded. The error return is reserved for transport
// failures (record store unreachable) where a retry can help.
func (s *IngressService) HandleStorageEvent(ctx context.Context, event domain.StorageEvent) (domain.IngressOutcome, error) {
	if skip, reason := s.shouldSkip(event); skip {
		log.Debugf("storage event %s skipped: %s", event.EventID, reason)
		return domain.IngressOutcome{Status: domain.OutcomeSkipped, Reason: reason, ObjectKey: event.ObjectKey}, nil
	}

	marked := false
	if event.EventID != "" && s.dedup != nil {
		first, err := s.dedup.MarkOnce(ctx, event.EventID)
		if err != nil {
			// Dedup is best effort: the record-level state check below
			// still catches re-deliveries, so losing redis must not
			// block the pipeline. Log and continue.
			log.Warnf("event dedup unavailable for %s, continuing: %v", event.EventID, err)
		} else if !first {
			return domain.IngressOutcome{Status: domain.OutcomeDuplicate, Reason: "event already delivered", ObjectKey: event.ObjectKey}, nil
		} else {
			marked = true
		}
	}

	asset, err := s.assets.GetByPermanentPath(ctx, event.ObjectKey)
	var notFound *assetdomain.NotFoundError
	if errors.As(err, &notFound) {
		log.Warnf("no asset record for finalized object %s", event.ObjectKey)
		return domain.IngressOutcome{Status: domain.OutcomeSkipped, Reason: "no asset record for object", ObjectKey: event.ObjectKey}, nil
	}
	if err != nil {
		if marked {
			s.forget(ctx, event.EventID)
		}
		return domain.IngressOutcome{}, fmt.Errorf("look up asset for %s: %w", event.ObjectKey, err)
	}

	// A record already Pending or Completed means another delivery of this
	// object got here first: answer success without re-processing.
	if asset.DerivativeState == assetdomain.DerivativePending || asset.DerivativeState == assetdomain.DerivativeCompleted {
		return domain.IngressOutcome{
			Status:    domain.OutcomeDuplicate,
			Reason:    "generation already " + string(asset.DerivativeState),
			AssetID:   asset.ID,
			ObjectKey: event.ObjectKey,
		}, nil
	}

	assetID := asset.ID
	asset.DerivativeState = assetdomain.DerivativePending
	asset.DerivativeError = ""
	asset, err = s.assets.Save(ctx, asset)
	var conflict *assetdomain.ConflictError
	if errors.As(err, &conflict) {
		return domain.IngressOutcome{
			Status:    domain.OutcomeDuplicate,
			Reason:    "concurrent processing detected",
			AssetID:   assetID,
			ObjectKey: event.ObjectKey,
		}, nil
	}
	if err != nil {
		if marked {
			s.forget(ctx, event.EventID)
		}
		return domain.IngressOutcome{}, fmt.Errorf("mark asset %s pending: %w", assetID, err)
	}

	outcome, err := s.generate(ctx, asset, event)
	if err != nil {
		if marked {
			s.forget(ctx, event.EventID)
		}
		return domain.IngressOutcome{}, err
	}
	s.notify(ctx, outcome)
	return outcome, nil
}

func (s *IngressService) generate(ctx context.Context, asset assetdomain.AssetRecord, event domain.StorageEvent) (domain.IngressOutcome, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	set, failures, genErr := s.generator.GenerateDerivatives(genCtx, asset.PermanentPath)

	outcome := domain.IngressOutcome{AssetID: asset.ID, ObjectKey: event.ObjectKey, Failures: failures}
	switch {
	case genErr != nil:
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = failureSummary(genCtx, genErr)
		asset.DerivativeState = assetdomain.DerivativeFailed
		asset.DerivativeError = outcome.Reason
		asset.DerivativeSet = nil
	case len(set) == 0:
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = "no derivative generated"
		asset.DerivativeState = assetdomain.DerivativeFailed
		asset.DerivativeError = summarizeFailures(genCtx, failures)
		asset.DerivativeSet = nil
	default:
		// Partial success still counts as Completed: the set simply
		// holds fewer sizes. Total failure is the only Failed case.
		outcome.Status = domain.OutcomeCompleted
		for name := range set {
			outcome.Generated = append(outcome.Generated, name)
		}
		asset.DerivativeState = assetdomain.DerivativeCompleted
		asset.DerivativeError = ""
		asset.DerivativeSet = set
	}

	if err := s.persistOutcome(ctx, asset); err != nil {
		return domain.IngressOutcome{}, fmt.Errorf("persist derivative outcome for %s: %w", asset.ID, err)
	}
	log.Infof("derivative outcome asset=%s status=%s generated=%d failed=%d", asset.ID, outcome.Status, len(outcome.Generated), len(outcome.Failures))
	return outcome, nil
}

// persistOutcome retries the optimistic write once after re-reading, so a
// racing metadata edit does not leave the asset stuck in Pending.
func (s *IngressService) persistOutcome(ctx context.Context, asset assetdomain.AssetRecord) error {
	_, err := s.assets.Save(ctx, asset)
	var conflict *assetdomain.ConflictError
	if !errors.As(err, &conflict) {
		return err
	}

	fresh, err := s.assets.GetByID(ctx, asset.ID)
	if err != nil {
		return err
	}
	fresh.DerivativeState = asset.DerivativeState
	fresh.DerivativeError = asset.DerivativeError
	fresh.DerivativeSet = asset.DerivativeSet
	_, err = s.assets.Save(ctx, fresh)
	return err
}

// forget releases the dedup mark on a transport-error return so the event
// source's retry of the same event id is processed instead of being answered
// as a duplicate. The record is still not_requested at every call site, so
// reprocessing is safe.
func (s *IngressService) forget(ctx context.Context, eventID string) {
	if s.dedup == nil || eventID == "" {
		return
	}
	if err := s.dedup.Forget(ctx, eventID); err != nil {
		log.Warnf("release dedup mark for %s: %v", eventID, err)
	}
}

func (s *IngressService) notify(ctx context.Context, outcome domain.IngressOutcome) {
	if s.notifier == nil {
		return
	}
	// The live feed is a non-critical secondary: its failure never blocks
	// or fails the pipeline.
	if err := s.notifier.Publish(ctx, outcome); err != nil {
		log.Warnf("publish outcome for asset %s: %v", outcome.AssetID, err)
	}
}

func (s *IngressService) shouldSkip(event domain.StorageEvent) (bool, string) {
	if event.ObjectKey == "" {
		return true, "missing object key"
	}
	if strings.HasPrefix(event.ObjectKey, DerivativePrefix) {
		return true, "object is a derivative output"
	}
	if s.sourceBucket != "" && event.Bucket != "" && event.Bucket != s.sourceBucket {
		return true, "bucket " + event.Bucket + " is not a source bucket"
	}
	if !isProcessableImage(event.ObjectKey, event.ContentType) {
		return true, "not a processable image"
	}
	return false, ""
}

func isProcessableImage(objectKey, contentType string) bool {
	if _, ok := processableImageTypes[contentType]; ok {
		return true
	}
	_, ok := processableImageExts[strings.ToLower(path.Ext(objectKey))]
	return ok
}

func failureSummary(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timeoutErr := &assetdomain.TimeoutError{Op: "derivative generation"}
		return timeoutErr.Error()
	}
	return err.Error()
}

func summarizeFailures(ctx context.Context, failures []domain.SizeFailure) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timeoutErr := &assetdomain.TimeoutError{Op: "derivative generation"}
		return timeoutErr.Error()
	}
	if len(failures) == 0 {
		return "no enabled sizes"
	}
	parts := make([]string, 0, len(failures))
	for _, failure := range failures {
		parts = append(parts, failure.SizeName+": "+failure.Reason)
	}
	return strings.Join(parts, "; ")
}
