package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBucketNotification(t *testing.T) {
	body := []byte(`{
		"Records": [{
			"responseElements": {"x-amz-request-id": "req-42"},
			"s3": {
				"bucket": {"name": "asset-permanent"},
				"object": {
					"key": "product%2F202609%2Fu1-my_photo.jpg",
					"size": 200000,
					"contentType": "image/jpeg",
					"sequencer": "16E0"
				}
			}
		}]
	}`)

	event, ok := parseBucketNotification(body)
	require.True(t, ok)
	assert.Equal(t, "asset-permanent", event.Bucket)
	assert.Equal(t, "product/202609/u1-my_photo.jpg", event.ObjectKey)
	assert.Equal(t, "image/jpeg", event.ContentType)
	assert.Equal(t, int64(200000), event.SizeBytes)
	assert.Equal(t, "req-42", event.EventID)
}

func TestParseBucketNotificationSequencerFallback(t *testing.T) {
	body := []byte(`{
		"Records": [{
			"s3": {
				"bucket": {"name": "asset-permanent"},
				"object": {"key": "a.png", "sequencer": "16E0"}
			}
		}]
	}`)

	event, ok := parseBucketNotification(body)
	require.True(t, ok)
	assert.Equal(t, "16E0", event.EventID)
}

func TestParseBucketNotificationRejectsGarbage(t *testing.T) {
	_, ok := parseBucketNotification([]byte("not json"))
	assert.False(t, ok)

	_, ok = parseBucketNotification([]byte(`{"Records": []}`))
	assert.False(t, ok)
}
