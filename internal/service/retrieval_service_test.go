package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/domain"
)

func TestSignedDownloadURL(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	env.retrieval.now = clock.Now

	v1 := env.upload(t, "invoice.pdf", "one", "u1")
	v2 := env.addVersion(t, v1.FileID, "two", "u1")

	link, err := env.retrieval.GetSignedDownloadURL(ctx, v1.FileID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, link.Version)
	assert.Contains(t, link.URL, v2.StoreKey)
	assert.Contains(t, link.URL, "X-Amz-Expires=3600")
	assert.Equal(t, clock.Now().Add(time.Hour), link.ExpiresAt)

	link, err = env.retrieval.GetSignedDownloadURL(ctx, v1.FileID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, link.Version)
	assert.Contains(t, link.URL, v1.StoreKey)

	_, err = env.retrieval.GetSignedDownloadURL(ctx, v1.FileID, 7)
	assert.True(t, errors.Is(err, domain.ErrVersionNotFound))

	_, err = env.retrieval.GetSignedDownloadURL(ctx, uuid.New(), 0)
	assert.True(t, errors.Is(err, domain.ErrFileNotFound))
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "original bytes", "u1")

	v, data, err := env.retrieval.Download(ctx, v1.FileID, 0)
	require.NoError(t, err)
	assert.Equal(t, "original bytes", string(data))
	assert.Equal(t, v1.Checksum, Checksum(data))
	assert.Equal(t, 1, v.Version)

	env.store.PutRaw(v1.StoreKey, []byte("tampered"), time.Now())
	_, _, err = env.retrieval.Download(ctx, v1.FileID, 1)
	assert.True(t, errors.Is(err, domain.ErrChecksumMismatch))

	require.NoError(t, env.store.DeleteObject(ctx, v1.StoreKey))
	_, _, err = env.retrieval.Download(ctx, v1.FileID, 1)
	assert.True(t, errors.Is(err, domain.ErrStorageRead))
}
