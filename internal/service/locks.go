package service

import (
	"sync"

	"github.com/google/uuid"
)

// fileLocks - мьютексы по идентификатору файла; записи удаляются, когда никто не ждет
type fileLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*fileLock
}

type fileLock struct {
	mu   sync.Mutex
	refs int
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[uuid.UUID]*fileLock)}
}

// Lock захватывает мьютекс файла и возвращает функцию освобождения
func (l *fileLocks) Lock(fileID uuid.UUID) func() {
	l.mu.Lock()
	lock, ok := l.locks[fileID]
	if !ok {
		lock = &fileLock{}
		l.locks[fileID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, fileID)
		}
		l.mu.Unlock()
	}
}

func (l *fileLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
