package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	assetdomain "assethub/server/assetman/domain"
	"assethub/server/common/infra/object"
	"assethub/server/common/log"
	"assethub/server/thumbman/domain"
)

// DerivativePrefix is where generated variants live inside the derivative
// location. The ingress filter relies on it to break feedback loops.
const DerivativePrefix = "thumbs/"

type objectReadWriter interface {
	Read(ctx context.Context, loc object.Location, key string) ([]byte, error)
	Write(ctx context.Context, loc object.Location, key string, data []byte, contentType string) error
}

// DerivativeService turns one source image into N resized, re-encoded
// variants per the size table. Sizes are independent: one failing does not
// abort the rest.
type DerivativeService struct {
	store objectReadWriter
	sizes []domain.SizeSpec
}

func NewDerivativeService(store objectReadWriter, sizes []domain.SizeSpec) *DerivativeService {
	return &DerivativeService{store: store, sizes: sizes}
}

// GenerateDerivatives reads the object at permanentPath, decodes it once and
// fans out one goroutine per enabled size, joining before it returns. The
// descriptor map holds the sizes that succeeded; failures come back
// alongside, not as an error. The returned error is non-nil only when no
// size could even be attempted (unreadable or undecodable source).
func (s *DerivativeService) GenerateDerivatives(ctx context.Context, permanentPath string) (map[string]assetdomain.DerivativeDescriptor, []domain.SizeFailure, error) {
	data, err := s.store.Read(ctx, object.LocationPermanent, permanentPath)
	if err != nil {
		return nil, nil, &assetdomain.TransientStorageError{Op: "read source object", Err: err}
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &assetdomain.UnsupportedMediaError{Key: permanentPath, Err: err}
	}

	enabled := make([]domain.SizeSpec, 0, len(s.sizes))
	for _, spec := range s.sizes {
		if spec.Enabled {
			enabled = append(enabled, spec)
		}
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		set      = make(map[string]assetdomain.DerivativeDescriptor, len(enabled))
		failures []domain.SizeFailure
	)
	for _, spec := range enabled {
		wg.Add(1)
		go func(spec domain.SizeSpec) {
			defer wg.Done()
			descriptor, err := s.generateOne(ctx, src, permanentPath, spec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warnf("derivative %s for %s failed: %v", spec.Name, permanentPath, err)
				failures = append(failures, domain.SizeFailure{SizeName: spec.Name, Reason: err.Error()})
				return
			}
			set[spec.Name] = descriptor
		}(spec)
	}
	wg.Wait()

	return set, failures, nil
}

func (s *DerivativeService) generateOne(ctx context.Context, src image.Image, permanentPath string, spec domain.SizeSpec) (assetdomain.DerivativeDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return assetdomain.DerivativeDescriptor{}, err
	}

	// Fit scales down preserving aspect ratio and never enlarges a source
	// that already fits inside the bounds.
	resized := imaging.Fit(src, spec.MaxWidth, spec.MaxHeight, imaging.Lanczos)

	format, contentType, err := encodingFor(spec.OutputFormat)
	if err != nil {
		return assetdomain.DerivativeDescriptor{}, err
	}
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, resized, format, imaging.JPEGQuality(spec.OutputQuality)); err != nil {
		return assetdomain.DerivativeDescriptor{}, fmt.Errorf("encode %s: %w", spec.OutputFormat, err)
	}

	key := DerivativeKey(permanentPath, spec.Name, spec.OutputFormat)
	if err := s.store.Write(ctx, object.LocationDerivative, key, buf.Bytes(), contentType); err != nil {
		return assetdomain.DerivativeDescriptor{}, fmt.Errorf("upload derivative: %w", err)
	}

	bounds := resized.Bounds()
	return assetdomain.DerivativeDescriptor{
		SizeName: spec.Name,
		Path:     key,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		ByteSize: int64(buf.Len()),
		Format:   spec.OutputFormat,
	}, nil
}

func encodingFor(outputFormat string) (imaging.Format, string, error) {
	switch outputFormat {
	case "jpeg":
		return imaging.JPEG, "image/jpeg", nil
	case "png":
		return imaging.PNG, "image/png", nil
	}
	return 0, "", fmt.Errorf("unsupported output format %q", outputFormat)
}

// DerivativeKey derives thumbs/{sizeName}/{source path with the extension
// the output format dictates}. Deterministic, so regeneration overwrites.
func DerivativeKey(permanentPath, sizeName, outputFormat string) string {
	ext := path.Ext(permanentPath)
	rekeyed := strings.TrimSuffix(permanentPath, ext)
	switch outputFormat {
	case "png":
		rekeyed += ".png"
	default:
		rekeyed += ".jpg"
	}
	return DerivativePrefix + sizeName + "/" + rekeyed
}
