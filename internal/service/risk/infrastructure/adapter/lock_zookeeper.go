package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"riskgate/internal/pkg/zookeeper"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
)

const zkLockRoot = "/riskgate/locks/customers"

// ZookeeperCustomerLocker 为每个客户使用一个 ZooKeeper 分布式锁。
// 邮箱中可能包含 "/"，节点名使用其 sha256。
type ZookeeperCustomerLocker struct {
	conn zookeeper.Conn
	root string
}

func NewZookeeperCustomerLocker(conn zookeeper.Conn) (*ZookeeperCustomerLocker, error) {
	if err := zookeeper.EnsurePath(conn, zkLockRoot); err != nil {
		return nil, domain.NewDependencyError("zookeeper", err)
	}
	return &ZookeeperCustomerLocker{conn: conn, root: zkLockRoot}, nil
}

func (l *ZookeeperCustomerLocker) Lock(ctx context.Context, email string) (port.UnlockFunc, error) {
	sum := sha256.Sum256([]byte(email))
	lock, err := zookeeper.NewDistributedLock(l.conn, l.root, hex.EncodeToString(sum[:16]))
	if err != nil {
		return nil, domain.NewDependencyError("zookeeper", err)
	}
	if err := lock.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, port.ErrLockTimeout
		}
		return nil, domain.NewDependencyError("zookeeper", err)
	}
	return func(context.Context) error {
		if err := lock.Unlock(); err != nil {
			return domain.NewDependencyError("zookeeper", err)
		}
		return nil
	}, nil
}
