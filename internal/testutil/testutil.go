package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"docvault/internal/repository"
	"docvault/internal/service/s3"
)

// NewTestDB создает sqlite-базу во временном каталоге и применяет миграции
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "docvault.db")

	require.NoError(t, repository.Migrate(repository.DriverSQLite, dsn, nil))
	db, err := repository.Open(context.Background(), repository.DriverSQLite, dsn, nil)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

// StoredObject - объект в памяти FakeStorage
type StoredObject struct {
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

// FakeStorage - хранилище объектов в памяти с возможностью внедрять сбои
type FakeStorage struct {
	mu         sync.Mutex
	objects    map[string]StoredObject
	failPut    func(key string) error
	failDelete func(key string) error
	putDelay   time.Duration
	puts       int
	inFlight   int
	peakPuts   int
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{objects: make(map[string]StoredObject)}
}

var _ s3.Storage = (*FakeStorage)(nil)

// FailPut задает функцию, решающую, какие записи (и копирования) завершатся ошибкой
func (f *FakeStorage) FailPut(fn func(key string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = fn
}

func (f *FakeStorage) FailDelete(fn func(key string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete = fn
}

// SlowPut замедляет каждую запись, чтобы загрузки пересекались во времени
func (f *FakeStorage) SlowPut(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putDelay = d
}

func (f *FakeStorage) PutObject(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	f.mu.Lock()
	delay, fail := f.putDelay, f.failPut
	f.inFlight++
	f.peakPuts = max(f.peakPuts, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(key); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[key] = StoredObject{
		Data:         append([]byte(nil), data...),
		ContentType:  contentType,
		Metadata:     copyMap(metadata),
		LastModified: time.Now(),
	}
	return nil
}

func (f *FakeStorage) GetObject(_ context.Context, key string) (s3.S3Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", s3.ErrObjectNotFound, key)
	}
	return s3.NewObject(io.NopCloser(bytes.NewReader(obj.Data)), int64(len(obj.Data)), obj.ContentType, copyMap(obj.Metadata)), nil
}

func (f *FakeStorage) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDelete != nil {
		if err := f.failDelete(key); err != nil {
			return err
		}
	}
	delete(f.objects, key)
	return nil
}

func (f *FakeStorage) ListObjects(_ context.Context, prefix string) ([]s3.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []s3.ObjectInfo
	for key, obj := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, s3.ObjectInfo{Key: key, Size: int64(len(obj.Data)), LastModified: obj.LastModified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *FakeStorage) CopyObject(_ context.Context, srcKey, dstKey, contentType string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failPut != nil {
		if err := f.failPut(dstKey); err != nil {
			return err
		}
	}
	src, ok := f.objects[srcKey]
	if !ok {
		return fmt.Errorf("%w: %s", s3.ErrObjectNotFound, srcKey)
	}
	f.puts++
	f.objects[dstKey] = StoredObject{
		Data:         append([]byte(nil), src.Data...),
		ContentType:  contentType,
		Metadata:     copyMap(metadata),
		LastModified: time.Now(),
	}
	return nil
}

func (f *FakeStorage) PresignGetObject(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://fake-s3.local/%s?X-Amz-Expires=%d", key, int(ttl.Seconds())), nil
}

// Object возвращает сохраненный объект по ключу
func (f *FakeStorage) Object(key string) (StoredObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

// PutRaw кладет объект в обход журнала, например чтобы имитировать сироту
func (f *FakeStorage) PutRaw(key string, data []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = StoredObject{Data: data, LastModified: modified}
}

// Keys возвращает отсортированные ключи всех объектов
func (f *FakeStorage) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *FakeStorage) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// PeakConcurrentPuts возвращает наибольшее число одновременных PutObject
func (f *FakeStorage) PeakConcurrentPuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peakPuts
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
