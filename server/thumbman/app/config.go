package app

import (
	"assethub/server/common/env"
	"assethub/server/thumbman/domain"
)

// SizeSpecsFromEnv loads the derivative size table: small/medium/large plus
// an optional custom entry. Read once at startup, read-only afterwards.
func SizeSpecsFromEnv() []domain.SizeSpec {
	specs := []domain.SizeSpec{
		{
			Name:          "small",
			MaxWidth:      env.Int("THUMB_SMALL_WIDTH", 150),
			MaxHeight:     env.Int("THUMB_SMALL_HEIGHT", 150),
			Enabled:       env.Bool("THUMB_SMALL_ENABLED", true),
			OutputFormat:  env.String("THUMB_SMALL_FORMAT", "jpeg"),
			OutputQuality: env.Int("THUMB_SMALL_QUALITY", 80),
		},
		{
			Name:          "medium",
			MaxWidth:      env.Int("THUMB_MEDIUM_WIDTH", 400),
			MaxHeight:     env.Int("THUMB_MEDIUM_HEIGHT", 400),
			Enabled:       env.Bool("THUMB_MEDIUM_ENABLED", true),
			OutputFormat:  env.String("THUMB_MEDIUM_FORMAT", "jpeg"),
			OutputQuality: env.Int("THUMB_MEDIUM_QUALITY", 85),
		},
		{
			Name:          "large",
			MaxWidth:      env.Int("THUMB_LARGE_WIDTH", 800),
			MaxHeight:     env.Int("THUMB_LARGE_HEIGHT", 800),
			Enabled:       env.Bool("THUMB_LARGE_ENABLED", true),
			OutputFormat:  env.String("THUMB_LARGE_FORMAT", "jpeg"),
			OutputQuality: env.Int("THUMB_LARGE_QUALITY", 90),
		},
	}

	if env.Bool("THUMB_CUSTOM_ENABLED", false) {
		specs = append(specs, domain.SizeSpec{
			Name:          "custom",
			MaxWidth:      env.Int("THUMB_CUSTOM_WIDTH", 600),
			MaxHeight:     env.Int("THUMB_CUSTOM_HEIGHT", 600),
			Enabled:       true,
			OutputFormat:  env.String("THUMB_CUSTOM_FORMAT", "jpeg"),
			OutputQuality: env.Int("THUMB_CUSTOM_QUALITY", 85),
		})
	}
	return specs
}
