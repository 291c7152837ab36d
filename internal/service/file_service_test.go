package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/domain"
)

func TestInvoiceLifecycle(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()

	v1 := env.upload(t, "invoice.pdf", "invoice v1", "u1")
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, Checksum([]byte("invoice v1")), v1.Checksum)
	assert.Equal(t, fmt.Sprintf("finance/%s/v1/invoice.pdf", v1.FileID), v1.StoreKey)
	assert.Equal(t, "application/pdf", v1.Metadata.MimeType)
	assert.Equal(t, []string{"q1"}, v1.Metadata.Tags)

	stored, ok := env.store.Object(v1.StoreKey)
	require.True(t, ok)
	assert.Equal(t, v1.Checksum, stored.Metadata["checksum"])
	assert.Equal(t, "u1", stored.Metadata["uploaded-by"])
	assert.Equal(t, "q1", stored.Metadata["tags"])

	v2 := env.addVersion(t, v1.FileID, "invoice v2", "u1")
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "finance", v2.Metadata.Category)

	v3, err := env.files.RollbackToVersion(ctx, v1.FileID, 1, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)
	assert.Equal(t, v1.Checksum, v3.Checksum)
	assert.Equal(t, v1.Size, v3.Size)
	assert.Equal(t, v1.Filename, v3.Filename)
	require.NotNil(t, v3.Metadata.RolledBackFrom)
	assert.Equal(t, 1, *v3.Metadata.RolledBackFrom)

	copied, ok := env.store.Object(v3.StoreKey)
	require.True(t, ok)
	assert.Equal(t, "invoice v1", string(copied.Data))
	assert.Equal(t, "1", copied.Metadata["rolled-back-from"])

	versions, err := env.files.GetFileVersions(ctx, v1.FileID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
	}
	assert.Equal(t, v2.Checksum, versions[1].Checksum, "rollback must not rewrite history")

	meta, err := env.metadata.GetFileMetadata(ctx, v1.FileID, "u1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 3, meta.CurrentVersion)
	assert.Equal(t, v1.Checksum, meta.Checksum)
	assert.Equal(t, domain.OwnerPermissions("u1"), meta.Permissions)
	assert.Len(t, meta.Versions, 3)
	assert.Empty(t, meta.Annotations)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.VersionsCreated.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.VersionsCreated.WithLabelValues("rollback")))
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{MaxFileSize: 8})
	ctx := context.Background()

	cases := []struct {
		name     string
		input    domain.UploadInput
		user     string
		category string
		want     error
	}{
		{"empty filename", domain.UploadInput{Filename: "  ", Content: []byte("x")}, "u1", "finance", domain.ErrInvalidInput},
		{"nested category", domain.UploadInput{Filename: "a.txt", Content: []byte("x")}, "u1", "fin/ance", domain.ErrInvalidInput},
		{"empty category", domain.UploadInput{Filename: "a.txt", Content: []byte("x")}, "u1", "", domain.ErrInvalidInput},
		{"anonymous", domain.UploadInput{Filename: "a.txt", Content: []byte("x")}, "", "finance", domain.ErrInvalidInput},
		{"too large", domain.UploadInput{Filename: "a.txt", Content: []byte("123456789")}, "u1", "finance", domain.ErrFileTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.files.UploadFile(ctx, tc.input, tc.user, tc.category, nil)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Empty(t, env.store.Keys())
}

func TestUploadNormalizesInput(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()

	v, err := env.files.UploadFile(ctx, domain.UploadInput{Filename: "../../etc/report.txt", Content: []byte("r")}, "u1", "legal", nil)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", v.Filename)
	assert.True(t, strings.HasPrefix(v.Metadata.MimeType, "text/plain"))
	assert.Equal(t, []string{}, v.Metadata.Tags)

	v, err = env.files.UploadFile(ctx, domain.UploadInput{Filename: `C:\docs\blob`, Content: nil}, "u1", "legal", nil)
	require.NoError(t, err)
	assert.Equal(t, "blob", v.Filename)
	assert.Equal(t, "application/octet-stream", v.Metadata.MimeType)
	assert.Equal(t, int64(0), v.Size)

	v, err = env.files.UploadFile(ctx, domain.UploadInput{Filename: "cert.bin", Content: []byte("c"), MimeType: "application/x-cert"}, "u1", "legal", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/x-cert", v.Metadata.MimeType)
}

func TestStoreFailureLeavesNoLedgerEntry(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	env.store.FailPut(func(string) error { return errors.New("s3 unavailable") })

	_, err := env.files.UploadFile(ctx, domain.UploadInput{Filename: "a.pdf", Content: []byte("a")}, "u1", "finance", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageWrite))
	assert.Empty(t, env.store.Keys())
}

func TestFailedVersionLeavesNoGap(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")

	env.store.FailPut(func(string) error { return errors.New("timeout") })
	_, err := env.files.AddVersion(ctx, v1.FileID, domain.UploadInput{Filename: "invoice.pdf", Content: []byte("two")}, "u1", nil)
	require.True(t, errors.Is(err, domain.ErrStorageWrite))

	env.store.FailPut(nil)
	v2 := env.addVersion(t, v1.FileID, "two", "u1")
	assert.Equal(t, 2, v2.Version)
}

func TestConcurrentVersionsAreContiguous(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	env.store.SlowPut(2 * time.Millisecond)
	v1 := env.upload(t, "invoice.pdf", "base", "u1")

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := env.files.AddVersion(context.Background(), v1.FileID, domain.UploadInput{
				Filename: "invoice.pdf",
				Content:  []byte(fmt.Sprintf("rev %d", i)),
			}, "u1", nil)
			if assert.NoError(t, err) {
				results <- v.Version
			}
		}(i)
	}
	wg.Wait()
	close(results)

	var got []int
	for n := range results {
		got = append(got, n)
	}
	sort.Ints(got)
	require.Len(t, got, writers)
	for i, n := range got {
		assert.Equal(t, i+2, n)
	}

	versions, err := env.files.GetFileVersions(context.Background(), v1.FileID)
	require.NoError(t, err)
	assert.Len(t, versions, writers+1)
	assert.Equal(t, 0, env.files.locks.size())
}

func TestRollbackErrors(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")

	_, err := env.files.RollbackToVersion(ctx, v1.FileID, 5, "u1")
	assert.True(t, errors.Is(err, domain.ErrVersionNotFound))

	_, err = env.files.RollbackToVersion(ctx, v1.FileID, 0, "u1")
	assert.True(t, errors.Is(err, domain.ErrVersionNotFound))

	_, err = env.files.RollbackToVersion(ctx, uuid.New(), 1, "u1")
	assert.True(t, errors.Is(err, domain.ErrVersionNotFound))

	versions, err := env.files.GetFileVersions(ctx, v1.FileID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestAddVersionUnknownFile(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})

	_, err := env.files.AddVersion(context.Background(), uuid.New(),
		domain.UploadInput{Filename: "a.txt", Content: []byte("a")}, "u1", nil)
	assert.True(t, errors.Is(err, domain.ErrFileNotFound))
	assert.Empty(t, env.store.Keys())
}

func TestSharingEnforcement(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{EnforceSharing: true})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "owner")

	_, err := env.files.AddVersion(ctx, v1.FileID, domain.UploadInput{Filename: "invoice.pdf", Content: []byte("x")}, "buyer", nil)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	_, err = env.files.RollbackToVersion(ctx, v1.FileID, 1, "buyer")
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	_, err = env.metadata.GetFileMetadata(ctx, v1.FileID, "buyer")
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	assert.Len(t, env.store.Keys(), 1)

	require.NoError(t, env.permissions.Grant(ctx, v1.FileID, "owner", "buyer", domain.CapabilityWrite))
	require.NoError(t, env.permissions.Grant(ctx, v1.FileID, "owner", "buyer", domain.CapabilityRead))

	v2, err := env.files.AddVersion(ctx, v1.FileID, domain.UploadInput{Filename: "invoice.pdf", Content: []byte("x")}, "buyer", nil)
	require.NoError(t, err)
	assert.Equal(t, "buyer", v2.UploadedBy)

	meta, err := env.metadata.GetFileMetadata(ctx, v1.FileID, "buyer")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner", "buyer"}, meta.Permissions.Write)
	assert.Equal(t, []string{"owner"}, meta.Permissions.Delete)
}

func TestDeleteRequiresPermissionWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")
	_, err := env.annotations.AddAnnotation(ctx, v1.FileID, "u1", domain.Comment{Text: "check totals"}, nil)
	require.NoError(t, err)

	deleted, err := env.files.DeleteFile(ctx, v1.FileID, "intruder")
	assert.False(t, deleted)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	assert.Len(t, env.store.Keys(), 1)
	meta, err := env.metadata.GetFileMetadata(ctx, v1.FileID, "u1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Len(t, meta.Annotations, 1)
}

func TestDeleteFileRemovesEverything(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")
	env.addVersion(t, v1.FileID, "two", "u1")
	_, err := env.annotations.AddAnnotation(ctx, v1.FileID, "u1", domain.Comment{Text: "note"}, nil)
	require.NoError(t, err)

	other := env.upload(t, "other.pdf", "other", "u1")
	stray := ObjectKey("finance", v1.FileID, 9, "leftover.pdf")
	env.store.PutRaw(stray, []byte("x"), time.Now())

	deleted, err := env.files.DeleteFile(ctx, v1.FileID, "u1")
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, []string{other.StoreKey}, env.store.Keys())

	meta, err := env.metadata.GetFileMetadata(ctx, v1.FileID, "u1")
	require.NoError(t, err)
	assert.Nil(t, meta)

	annotations, err := env.annotations.GetAnnotations(ctx, v1.FileID)
	require.NoError(t, err)
	assert.Empty(t, annotations)

	deleted, err = env.files.DeleteFile(ctx, v1.FileID, "u1")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = env.files.DeleteFile(ctx, uuid.New(), "u1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPartialDeleteIsResumable(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")
	v2 := env.addVersion(t, v1.FileID, "two", "u1")

	env.store.FailDelete(func(key string) error {
		if key == v2.StoreKey {
			return errors.New("access denied by bucket policy")
		}
		return nil
	})

	deleted, err := env.files.DeleteFile(ctx, v1.FileID, "u1")
	assert.False(t, deleted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageWrite))

	var incomplete *domain.IncompleteDeleteError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []int{2}, incomplete.Remaining)
	assert.Equal(t, v1.FileID, incomplete.FileID)

	// Файл уже невидим для чтения, хотя журнал цел
	meta, err := env.metadata.GetFileMetadata(ctx, v1.FileID, "u1")
	require.NoError(t, err)
	assert.Nil(t, meta)
	_, err = env.retrieval.GetSignedDownloadURL(ctx, v1.FileID, 0)
	assert.True(t, errors.Is(err, domain.ErrFileNotFound))
	_, err = env.files.AddVersion(ctx, v1.FileID, domain.UploadInput{Filename: "invoice.pdf", Content: []byte("x")}, "u1", nil)
	assert.True(t, errors.Is(err, domain.ErrFileNotFound))

	env.store.FailDelete(nil)
	purged, err := env.files.PurgeDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Empty(t, env.store.Keys())

	purged, err = env.files.PurgeDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Deletes.WithLabelValues("incomplete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Deletes.WithLabelValues("ok")))
}

func TestDeleteAfterPurgeFinishedElsewhere(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")
	env.addVersion(t, v1.FileID, "two", "u1")

	// Очистка другим процессом успевает завершиться перед пометкой удаления
	purgedElsewhere := false
	env.files.now = func() time.Time {
		if !purgedElsewhere {
			purgedElsewhere = true
			versions, err := env.files.versionRepo.GetFileVersions(ctx, v1.FileID)
			require.NoError(t, err)
			require.NoError(t, env.files.purgeFile(ctx, v1.FileID, v1.Metadata.Category, versions))
		}
		return time.Now()
	}

	var deleted bool
	var err error
	require.NotPanics(t, func() {
		deleted, err = env.files.DeleteFile(ctx, v1.FileID, "u1")
	})
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.True(t, purgedElsewhere)
	assert.Empty(t, env.store.Keys())

	versions, err := env.files.GetFileVersions(ctx, v1.FileID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestConcurrentDeleteAndPurge(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")
	v2 := env.addVersion(t, v1.FileID, "two", "u1")

	env.store.FailDelete(func(key string) error {
		if key == v2.StoreKey {
			return errors.New("slow down")
		}
		return nil
	})
	_, err := env.files.DeleteFile(ctx, v1.FileID, "u1")
	var incomplete *domain.IncompleteDeleteError
	require.True(t, errors.As(err, &incomplete))
	env.store.FailDelete(nil)

	// Повторы удаления и плановая очистка идут одновременно
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	deletes := make(chan bool, 4)
	purges := make(chan int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			deleted, err := env.files.DeleteFile(ctx, v1.FileID, "u1")
			errs <- err
			deletes <- deleted
		}()
		go func() {
			defer wg.Done()
			n, err := env.files.PurgeDeleted(ctx)
			errs <- err
			purges <- n
		}()
	}
	wg.Wait()
	close(errs)
	close(deletes)
	close(purges)

	for err := range errs {
		assert.NoError(t, err)
	}
	completed := 0
	for deleted := range deletes {
		if deleted {
			completed++
		}
	}
	for n := range purges {
		completed += n
	}
	assert.Equal(t, 1, completed)
	assert.Empty(t, env.store.Keys())

	versions, err := env.files.versionRepo.GetFileVersions(ctx, v1.FileID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestSweepOrphans(t *testing.T) {
	env := newTestEnv(t, FileServiceConfig{})
	ctx := context.Background()
	v1 := env.upload(t, "invoice.pdf", "one", "u1")

	old := time.Now().Add(-48 * time.Hour)
	orphanOld := ObjectKey("finance", uuid.New(), 1, "lost.pdf")
	orphanNew := ObjectKey("finance", uuid.New(), 1, "pending.pdf")
	foreign := "exports/report.csv"
	env.store.PutRaw(orphanOld, []byte("x"), old)
	env.store.PutRaw(orphanNew, []byte("y"), time.Now())
	env.store.PutRaw(foreign, []byte("z"), old)

	removed, err := env.files.SweepOrphans(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys := env.store.Keys()
	assert.NotContains(t, keys, orphanOld)
	assert.Contains(t, keys, orphanNew)
	assert.Contains(t, keys, foreign)
	assert.Contains(t, keys, v1.StoreKey)
}

func TestObjectKeyRoundTrip(t *testing.T) {
	id := uuid.New()
	key := ObjectKey("finance", id, 12, "invoice 2024.pdf")

	gotID, gotVersion, ok := ParseObjectKey(key)
	require.True(t, ok)
	assert.Equal(t, id, gotID)
	assert.Equal(t, 12, gotVersion)

	for _, bad := range []string{"finance/x/v1/a.pdf", "finance/" + id.String() + "/1/a.pdf", "finance/" + id.String() + "/v0/a.pdf", "finance/" + id.String() + "/v1/"} {
		_, _, ok := ParseObjectKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Checksum([]byte("abc")))
}
