package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetdomain "assethub/server/assetman/domain"
	"assethub/server/thumbman/domain"
	"assethub/server/thumbman/service"
)

type fakeAssets struct {
	items         map[string]assetdomain.AssetRecord
	saveCalls     int
	conflictCalls map[int]bool
	saveErrCalls  map[int]error
	lookupErr     error
}

func newFakeAssets(items ...assetdomain.AssetRecord) *fakeAssets {
	f := &fakeAssets{
		items:         map[string]assetdomain.AssetRecord{},
		conflictCalls: map[int]bool{},
		saveErrCalls:  map[int]error{},
	}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeAssets) GetByPermanentPath(_ context.Context, path string) (assetdomain.AssetRecord, error) {
	if f.lookupErr != nil {
		return assetdomain.AssetRecord{}, f.lookupErr
	}
	for _, item := range f.items {
		if item.PermanentPath == path && !item.IsDeleted() {
			return item, nil
		}
	}
	return assetdomain.AssetRecord{}, &assetdomain.NotFoundError{ID: path}
}

func (f *fakeAssets) GetByID(_ context.Context, id string) (assetdomain.AssetRecord, error) {
	item, ok := f.items[id]
	if !ok {
		return assetdomain.AssetRecord{}, &assetdomain.NotFoundError{ID: id}
	}
	return item, nil
}

func (f *fakeAssets) Save(_ context.Context, item assetdomain.AssetRecord) (assetdomain.AssetRecord, error) {
	f.saveCalls++
	if f.conflictCalls[f.saveCalls] {
		return assetdomain.AssetRecord{}, &assetdomain.ConflictError{ID: item.ID}
	}
	if err := f.saveErrCalls[f.saveCalls]; err != nil {
		return assetdomain.AssetRecord{}, err
	}
	item.UpdatedAt = time.Now()
	f.items[item.ID] = item
	return item, nil
}

type fakeGenerator struct {
	calls    int
	set      map[string]assetdomain.DerivativeDescriptor
	failures []domain.SizeFailure
	err      error
}

func (f *fakeGenerator) GenerateDerivatives(_ context.Context, _ string) (map[string]assetdomain.DerivativeDescriptor, []domain.SizeFailure, error) {
	f.calls++
	return f.set, f.failures, f.err
}

type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (f *fakeDeduper) MarkOnce(_ context.Context, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeDeduper) Forget(_ context.Context, eventID string) error {
	delete(f.seen, eventID)
	return nil
}

type fakeNotifier struct {
	published []domain.IngressOutcome
}

func (f *fakeNotifier) Publish(_ context.Context, outcome domain.IngressOutcome) error {
	f.published = append(f.published, outcome)
	return nil
}

func promotedAsset() assetdomain.AssetRecord {
	return assetdomain.AssetRecord{
		ID:              "a1",
		Category:        "product",
		ContentType:     "image/png",
		PermanentPath:   "product/202609/u1-pic.png",
		State:           assetdomain.StatePromoted,
		DerivativeState: assetdomain.DerivativeNotRequested,
	}
}

func finalizedEvent() domain.StorageEvent {
	return domain.StorageEvent{
		Bucket:      "asset-permanent",
		ObjectKey:   "product/202609/u1-pic.png",
		ContentType: "image/png",
		SizeBytes:   12345,
		EventID:     "evt-1",
	}
}

func smallSet() map[string]assetdomain.DerivativeDescriptor {
	return map[string]assetdomain.DerivativeDescriptor{
		"small": {SizeName: "small", Path: "thumbs/small/product/202609/u1-pic.jpg", Width: 50, Height: 30, Format: "jpeg"},
	}
}

func newIngress(assets *fakeAssets, gen *fakeGenerator, dedup *fakeDeduper, notify *fakeNotifier) *service.IngressService {
	return service.NewIngressService(assets, gen, dedup, notify, "asset-permanent", time.Minute)
}

func TestHandleStorageEventCompleted(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	gen := &fakeGenerator{set: smallSet()}
	notify := &fakeNotifier{}
	svc := newIngress(assets, gen, &fakeDeduper{}, notify)

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Equal(t, "a1", outcome.AssetID)
	assert.Equal(t, []string{"small"}, outcome.Generated)

	saved := assets.items["a1"]
	assert.Equal(t, assetdomain.DerivativeCompleted, saved.DerivativeState)
	assert.Len(t, saved.DerivativeSet, 1)
	assert.Empty(t, saved.DerivativeError)

	require.Len(t, notify.published, 1)
	assert.Equal(t, domain.OutcomeCompleted, notify.published[0].Status)
}

func TestHandleStorageEventRedelivery(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	gen := &fakeGenerator{set: smallSet()}
	dedup := &fakeDeduper{}
	svc := newIngress(assets, gen, dedup, &fakeNotifier{})

	first, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)
	second, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, first.Status)
	assert.Equal(t, domain.OutcomeDuplicate, second.Status)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, assetdomain.DerivativeCompleted, assets.items["a1"].DerivativeState)
}

func TestHandleStorageEventDedupDownFallsBackToRecordState(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	gen := &fakeGenerator{set: smallSet()}
	dedup := &fakeDeduper{err: errors.New("redis down")}
	svc := newIngress(assets, gen, dedup, &fakeNotifier{})

	first, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)
	second, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, first.Status)
	// The record-level check still stops the second pass.
	assert.Equal(t, domain.OutcomeDuplicate, second.Status)
	assert.Equal(t, 1, gen.calls)
}

func TestHandleStorageEventSkips(t *testing.T) {
	cases := []struct {
		name  string
		event domain.StorageEvent
	}{
		{"missing key", domain.StorageEvent{Bucket: "asset-permanent"}},
		{"derivative output", domain.StorageEvent{Bucket: "asset-permanent", ObjectKey: "thumbs/small/a.jpg", ContentType: "image/jpeg"}},
		{"foreign bucket", domain.StorageEvent{Bucket: "asset-staging", ObjectKey: "product/a.jpg", ContentType: "image/jpeg"}},
		{"not an image", domain.StorageEvent{Bucket: "asset-permanent", ObjectKey: "product/a.pdf", ContentType: "application/pdf"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{set: smallSet()}
			svc := newIngress(newFakeAssets(promotedAsset()), gen, &fakeDeduper{}, &fakeNotifier{})

			outcome, err := svc.HandleStorageEvent(context.Background(), tc.event)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeSkipped, outcome.Status)
			assert.Zero(t, gen.calls)
		})
	}
}

func TestHandleStorageEventNoRecord(t *testing.T) {
	gen := &fakeGenerator{set: smallSet()}
	svc := newIngress(newFakeAssets(), gen, &fakeDeduper{}, &fakeNotifier{})

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, outcome.Status)
	assert.Contains(t, outcome.Reason, "no asset record")
	assert.Zero(t, gen.calls)
}

func TestHandleStorageEventLookupFailure(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	assets.lookupErr = errors.New("database unreachable")
	svc := newIngress(assets, &fakeGenerator{}, &fakeDeduper{}, &fakeNotifier{})

	_, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.Error(t, err)
}

func TestHandleStorageEventTotalFailure(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	gen := &fakeGenerator{failures: []domain.SizeFailure{
		{SizeName: "small", Reason: "encode blew up"},
		{SizeName: "large", Reason: "upload refused"},
	}}
	svc := newIngress(assets, gen, &fakeDeduper{}, &fakeNotifier{})

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFailed, outcome.Status)
	saved := assets.items["a1"]
	assert.Equal(t, assetdomain.DerivativeFailed, saved.DerivativeState)
	assert.Contains(t, saved.DerivativeError, "small: encode blew up")
	assert.Contains(t, saved.DerivativeError, "large: upload refused")
	assert.Nil(t, saved.DerivativeSet)
}

func TestHandleStorageEventPartialSuccessIsCompleted(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	gen := &fakeGenerator{
		set:      smallSet(),
		failures: []domain.SizeFailure{{SizeName: "large", Reason: "upload refused"}},
	}
	svc := newIngress(assets, gen, &fakeDeduper{}, &fakeNotifier{})

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Len(t, outcome.Failures, 1)
	saved := assets.items["a1"]
	assert.Equal(t, assetdomain.DerivativeCompleted, saved.DerivativeState)
	assert.Len(t, saved.DerivativeSet, 1)
}

func TestHandleStorageEventUndecodableSource(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	gen := &fakeGenerator{err: &assetdomain.UnsupportedMediaError{Key: "product/202609/u1-pic.png", Err: errors.New("image: unknown format")}}
	svc := newIngress(assets, gen, &fakeDeduper{}, &fakeNotifier{})

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "unsupported media")
	assert.Equal(t, assetdomain.DerivativeFailed, assets.items["a1"].DerivativeState)
}

func TestHandleStorageEventRetryAfterLookupFailure(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	assets.lookupErr = errors.New("database unreachable")
	gen := &fakeGenerator{set: smallSet()}
	dedup := &fakeDeduper{}
	svc := newIngress(assets, gen, dedup, &fakeNotifier{})

	_, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.Error(t, err)
	assert.Zero(t, gen.calls)

	// The store recovers and the source redelivers the same event id; the
	// failed attempt must not count as a prior delivery.
	assets.lookupErr = nil
	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, assetdomain.DerivativeCompleted, assets.items["a1"].DerivativeState)
}

func TestHandleStorageEventRetryAfterPendingSaveFailure(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	assets.saveErrCalls[1] = errors.New("database unreachable")
	gen := &fakeGenerator{set: smallSet()}
	svc := newIngress(assets, gen, &fakeDeduper{}, &fakeNotifier{})

	_, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.Error(t, err)
	assert.Zero(t, gen.calls)

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Equal(t, 1, gen.calls)
}

type stalledGenerator struct{}

func (stalledGenerator) GenerateDerivatives(ctx context.Context, _ string) (map[string]assetdomain.DerivativeDescriptor, []domain.SizeFailure, error) {
	<-ctx.Done()
	return nil, []domain.SizeFailure{
		{SizeName: "small", Reason: ctx.Err().Error()},
		{SizeName: "large", Reason: ctx.Err().Error()},
	}, nil
}

func TestHandleStorageEventGenerationDeadline(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	svc := service.NewIngressService(assets, stalledGenerator{}, &fakeDeduper{}, &fakeNotifier{}, "asset-permanent", 20*time.Millisecond)

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFailed, outcome.Status)
	saved := assets.items["a1"]
	assert.Equal(t, assetdomain.DerivativeFailed, saved.DerivativeState)
	assert.Contains(t, saved.DerivativeError, "timeout:")
	assert.Nil(t, saved.DerivativeSet)
}

func TestHandleStorageEventPendingConflictReportsAssetID(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	assets.conflictCalls[1] = true
	svc := newIngress(assets, &fakeGenerator{set: smallSet()}, &fakeDeduper{}, &fakeNotifier{})

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDuplicate, outcome.Status)
	assert.Equal(t, "a1", outcome.AssetID)
}

func TestHandleStorageEventOutcomePersistRetriesOnConflict(t *testing.T) {
	assets := newFakeAssets(promotedAsset())
	// Save #1 marks Pending, Save #2 (the outcome write) loses the race,
	// Save #3 is the retry after a re-read.
	assets.conflictCalls[2] = true
	gen := &fakeGenerator{set: smallSet()}
	svc := newIngress(assets, gen, &fakeDeduper{}, &fakeNotifier{})

	outcome, err := svc.HandleStorageEvent(context.Background(), finalizedEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Equal(t, 3, assets.saveCalls)
	assert.Equal(t, assetdomain.DerivativeCompleted, assets.items["a1"].DerivativeState)
}
