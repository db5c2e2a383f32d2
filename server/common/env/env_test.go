package env_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"assethub/server/common/env"
)

func TestString(t *testing.T) {
	t.Setenv("APP_NAME", "assethub")
	assert.Equal(t, "assethub", env.String("APP_NAME", "fallback"))
	assert.Equal(t, "fallback", env.String("APP_NAME_MISSING", "fallback"))
}

func TestInt(t *testing.T) {
	t.Setenv("PORT", "8080")
	assert.Equal(t, 8080, env.Int("PORT", 9090))

	t.Setenv("PORT_BAD", "not-a-number")
	assert.Equal(t, 9090, env.Int("PORT_BAD", 9090))

	t.Setenv("PORT_NEG", "-1")
	assert.Equal(t, 9090, env.Int("PORT_NEG", 9090))
}

func TestInt64(t *testing.T) {
	t.Setenv("MAX_BYTES", "52428800")
	assert.Equal(t, int64(52428800), env.Int64("MAX_BYTES", 1))
}

func TestBool(t *testing.T) {
	t.Setenv("FEATURE_ON", "true")
	assert.True(t, env.Bool("FEATURE_ON", false))
	assert.False(t, env.Bool("FEATURE_MISSING", false))
}

func TestDuration(t *testing.T) {
	t.Setenv("TTL", "15m")
	assert.Equal(t, 15*time.Minute, env.Duration("TTL", time.Hour))

	t.Setenv("TTL_BAD", "fifteen")
	assert.Equal(t, time.Hour, env.Duration("TTL_BAD", time.Hour))
}

func TestCSV(t *testing.T) {
	t.Setenv("TYPES", "image/jpeg, image/png,image/jpeg, ")
	assert.Equal(t, []string{"image/jpeg", "image/png"}, env.CSV("TYPES", nil))
	assert.Equal(t, []string{"a"}, env.CSV("TYPES_MISSING", []string{"a"}))
}
