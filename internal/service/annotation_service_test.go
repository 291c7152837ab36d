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

func TestAnnotationsKeepInsertionOrder(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")

	contents := []domain.AnnotationContent{
		domain.Comment{Text: "check VAT"},
		domain.Highlight{Excerpt: "Total: 1200 EUR", Color: "yellow"},
		domain.Drawing{Strokes: []domain.Stroke{{Points: []domain.Point{{X: 1, Y: 1}, {X: 5, Y: 5}}, Width: 2}}},
		domain.TextNote{Text: "approved", FontSize: 12},
	}
	var ids []uuid.UUID
	for _, c := range contents {
		a, err := env.annotations.AddAnnotation(ctx, v1.FileID, "u2", c, &domain.Position{X: 10, Y: 20})
		require.NoError(t, err)
		assert.Equal(t, a.CreatedAt, a.UpdatedAt)
		ids = append(ids, a.ID)
	}

	list, err := env.annotations.GetAnnotations(ctx, v1.FileID)
	require.NoError(t, err)
	require.Len(t, list, len(contents))
	for i, a := range list {
		assert.Equal(t, ids[i], a.ID)
		assert.Equal(t, contents[i], a.Content)
		assert.Equal(t, "u2", a.UserID)
	}

	empty, err := env.annotations.GetAnnotations(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestAddAnnotationValidation(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")

	_, err := env.annotations.AddAnnotation(ctx, uuid.New(), "u1", domain.Comment{Text: "hi"}, nil)
	assert.True(t, errors.Is(err, domain.ErrFileNotFound))

	_, err = env.annotations.AddAnnotation(ctx, v1.FileID, "u1", domain.Comment{}, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidAnnotation))

	_, err = env.annotations.AddAnnotation(ctx, v1.FileID, "u1", nil, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidAnnotation))

	_, err = env.annotations.AddAnnotation(ctx, v1.FileID, "", domain.Comment{Text: "hi"}, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestUpdateAnnotation(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	env.annotations.now = clock.Now
	v1 := env.upload(t, "invoice.pdf", "one", "u1")

	a, err := env.annotations.AddAnnotation(ctx, v1.FileID, "u1", domain.Comment{Text: "draft"}, &domain.Position{X: 1, Y: 2})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	updated, err := env.annotations.UpdateAnnotation(ctx, a.ID, v1.FileID, domain.AnnotationUpdate{
		Content: domain.Comment{Text: "final"},
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, domain.Comment{Text: "final"}, updated.Content)
	assert.Equal(t, &domain.Position{X: 1, Y: 2}, updated.Position)
	assert.True(t, updated.CreatedAt.Equal(a.CreatedAt))
	assert.True(t, updated.UpdatedAt.Equal(clock.Now()))

	clock.Advance(time.Minute)
	updated, err = env.annotations.UpdateAnnotation(ctx, a.ID, v1.FileID, domain.AnnotationUpdate{
		Position: &domain.Position{X: 3, Y: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Comment{Text: "final"}, updated.Content)
	assert.Equal(t, 3.0, updated.Position.X)

	list, err := env.annotations.GetAnnotations(ctx, v1.FileID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.Comment{Text: "final"}, list[0].Content)
	assert.True(t, list[0].UpdatedAt.Equal(clock.Now()))

	_, err = env.annotations.UpdateAnnotation(ctx, a.ID, v1.FileID, domain.AnnotationUpdate{
		Content: domain.Highlight{Excerpt: "x"},
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidAnnotation))

	missing, err := env.annotations.UpdateAnnotation(ctx, uuid.New(), v1.FileID, domain.AnnotationUpdate{})
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = env.annotations.UpdateAnnotation(ctx, a.ID, uuid.New(), domain.AnnotationUpdate{})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteAnnotationIsIdempotent(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")

	a, err := env.annotations.AddAnnotation(ctx, v1.FileID, "u1", domain.TextNote{Text: "ok"}, nil)
	require.NoError(t, err)

	removed, err := env.annotations.DeleteAnnotation(ctx, a.ID, v1.FileID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = env.annotations.DeleteAnnotation(ctx, a.ID, v1.FileID)
	require.NoError(t, err)
	assert.False(t, removed)
}
