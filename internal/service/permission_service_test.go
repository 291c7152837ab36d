package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/domain"
)

func TestOwnerHoldsAllCapabilities(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "seller")

	for _, c := range domain.AllCapabilities {
		assert.NoError(t, env.permissions.Authorize(ctx, v1.FileID, "seller", c))
		assert.True(t, errors.Is(env.permissions.Authorize(ctx, v1.FileID, "buyer", c), domain.ErrPermissionDenied))
	}
	assert.True(t, errors.Is(env.permissions.Authorize(ctx, v1.FileID, "", domain.CapabilityRead), domain.ErrPermissionDenied))
	assert.True(t, errors.Is(env.permissions.Authorize(ctx, uuid.New(), "seller", domain.CapabilityRead), domain.ErrPermissionDenied))

	perms, err := env.permissions.Permissions(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.Permissions{Read: []string{}, Write: []string{}, Delete: []string{}}, perms)
}

func TestGrantAndRevoke(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "seller")

	err := env.permissions.Grant(ctx, v1.FileID, "buyer", "buyer", domain.CapabilityRead)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	err = env.permissions.Grant(ctx, v1.FileID, "seller", "buyer", domain.Capability("admin"))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	err = env.permissions.Grant(ctx, uuid.New(), "seller", "buyer", domain.CapabilityRead)
	assert.True(t, errors.Is(err, domain.ErrFileNotFound))

	require.NoError(t, env.permissions.Grant(ctx, v1.FileID, "seller", "buyer", domain.CapabilityDelete))
	require.NoError(t, env.permissions.Grant(ctx, v1.FileID, "seller", "buyer", domain.CapabilityDelete))
	require.NoError(t, env.permissions.Authorize(ctx, v1.FileID, "buyer", domain.CapabilityDelete))

	// Обладатель delete может делиться дальше, но не может лишить прав создателя
	require.NoError(t, env.permissions.Grant(ctx, v1.FileID, "buyer", "auditor", domain.CapabilityRead))
	_, err = env.permissions.Revoke(ctx, v1.FileID, "buyer", "seller", domain.CapabilityRead)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	removed, err := env.permissions.Revoke(ctx, v1.FileID, "seller", "auditor", domain.CapabilityRead)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = env.permissions.Revoke(ctx, v1.FileID, "seller", "auditor", domain.CapabilityRead)
	require.NoError(t, err)
	assert.False(t, removed)

	perms, err := env.permissions.Permissions(ctx, v1.FileID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"seller", "buyer"}, perms.Delete)
	assert.Equal(t, []string{"seller"}, perms.Read)
}
