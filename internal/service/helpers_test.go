package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"docvault/internal/domain"
	"docvault/internal/metrics"
	"docvault/internal/repository"
	"docvault/internal/testutil"
)

type testEnv struct {
	store       *testutil.FakeStorage
	files       *FileService
	permissions *PermissionService
	annotations *AnnotationService
	retrieval   *RetrievalService
	metadata    *MetadataService
	metrics     *metrics.Metrics
}

func newTestEnv(t *testing.T, cfg FileServiceConfig) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	store := testutil.NewFakeStorage()
	m := metrics.New(prometheus.NewRegistry())

	fileRepo := repository.NewFileRepository(db)
	permissions := NewPermissionService(repository.NewPermissionRepository(db), fileRepo, nil)
	files := NewFileService(fileRepo, repository.NewVersionRepository(db), store, permissions, nil, cfg, nil, m)
	annotations := NewAnnotationService(repository.NewAnnotationRepository(db), files, nil)

	return &testEnv{
		store:       store,
		files:       files,
		permissions: permissions,
		annotations: annotations,
		retrieval:   NewRetrievalService(files, store, time.Hour, nil),
		metadata:    NewMetadataService(files, annotations, permissions, cfg.EnforceSharing),
		metrics:     m,
	}
}

func (e *testEnv) upload(t *testing.T, filename, content, userID string) *domain.FileVersion {
	t.Helper()
	v, err := e.files.UploadFile(context.Background(), domain.UploadInput{
		Filename: filename,
		Content:  []byte(content),
	}, userID, "finance", []string{"q1"})
	require.NoError(t, err)
	return v
}

func (e *testEnv) addVersion(t *testing.T, fileID uuid.UUID, content, userID string) *domain.FileVersion {
	t.Helper()
	v, err := e.files.AddVersion(context.Background(), fileID, domain.UploadInput{
		Filename: "invoice.pdf",
		Content:  []byte(content),
	}, userID, nil)
	require.NoError(t, err)
	return v
}

// fixedClock возвращает часы, которые двигаются только вручную
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
