package port

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("timed out waiting for customer lock")

// UnlockFunc 释放已经获取到的锁
type UnlockFunc func(ctx context.Context) error

// CustomerLocker 是按客户加锁的出站端口。
// 同一客户的"读计数 -> 决策/写入"必须在锁内完成。
type CustomerLocker interface {
	// Lock 阻塞直到获取锁或 ctx 结束。
	Lock(ctx context.Context, email string) (UnlockFunc, error)
}
