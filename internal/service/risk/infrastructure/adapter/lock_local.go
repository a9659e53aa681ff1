package adapter

import (
	"context"
	"sync"

	"riskgate/internal/service/risk/domain/port"
)

// LocalCustomerLocker 是单实例部署使用的进程内按键互斥锁
type LocalCustomerLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalCustomerLocker() *LocalCustomerLocker {
	return &LocalCustomerLocker{locks: map[string]*localLock{}}
}

func (l *LocalCustomerLocker) Lock(ctx context.Context, email string) (port.UnlockFunc, error) {
	l.mu.Lock()
	lk, ok := l.locks[email]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[email] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(email, lk)
		return nil, port.ErrLockTimeout
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-lk.ch
			l.release(email, lk)
		})
		return nil
	}, nil
}

// release 减少引用计数，没有等待者时回收条目
func (l *LocalCustomerLocker) release(email string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, email)
	}
}

func (l *LocalCustomerLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
