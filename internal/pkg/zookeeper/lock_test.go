package zookeeper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 是内存版的 ZooKeeper，只实现锁用到的语义
type fakeConn struct {
	mu      sync.Mutex
	nodes   map[string]bool
	seq     int
	watches map[string][]chan zk.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{nodes: map[string]bool{}, watches: map[string][]chan zk.Event{}}
}

func (f *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[path], &zk.Stat{}, nil
}

func (f *fakeConn) Create(path string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodes[path] {
		return "", zk.ErrNodeExists
	}
	f.nodes[path] = true
	return path, nil
}

func (f *fakeConn) CreateProtectedEphemeralSequential(path string, _ []byte, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	dir := path[:strings.LastIndex(path, "/")]
	// 随机前缀故意与序号顺序相反
	name := fmt.Sprintf("%s/_c_%03d-lock-%010d", dir, 999-f.seq, f.seq)
	f.nodes[name] = true
	return name, nil
}

func (f *fakeConn) Children(path string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for n := range f.nodes {
		if strings.HasPrefix(n, path+"/") && !strings.Contains(strings.TrimPrefix(n, path+"/"), "/") {
			out = append(out, strings.TrimPrefix(n, path+"/"))
		}
	}
	return out, &zk.Stat{}, nil
}

func (f *fakeConn) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan zk.Event, 1)
	if f.nodes[path] {
		f.watches[path] = append(f.watches[path], ch)
	}
	return f.nodes[path], &zk.Stat{}, ch, nil
}

func (f *fakeConn) Delete(path string, _ int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.nodes[path] {
		return zk.ErrNoNode
	}
	delete(f.nodes, path)
	for _, ch := range f.watches[path] {
		ch <- zk.Event{Type: zk.EventNodeDeleted, Path: path}
	}
	delete(f.watches, path)
	return nil
}

func TestEnsurePath(t *testing.T) {
	conn := newFakeConn()
	require.NoError(t, EnsurePath(conn, "/riskgate/locks/customers"))
	require.NoError(t, EnsurePath(conn, "/riskgate/locks/customers"))
	assert.True(t, conn.nodes["/riskgate"])
	assert.True(t, conn.nodes["/riskgate/locks"])
	assert.True(t, conn.nodes["/riskgate/locks/customers"])
}

func TestDistributedLock_MutualExclusion(t *testing.T) {
	conn := newFakeConn()

	first, err := NewDistributedLock(conn, "/locks", "cust-1")
	require.NoError(t, err)
	require.NoError(t, first.Lock(context.Background()))

	second, err := NewDistributedLock(conn, "/locks", "cust-1")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() { acquired <- second.Lock(context.Background()) }()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Unlock())
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
	require.NoError(t, second.Unlock())
	assert.Error(t, second.Unlock())
}

func TestDistributedLock_ContextCancelRemovesNode(t *testing.T) {
	conn := newFakeConn()

	holder, err := NewDistributedLock(conn, "/locks", "cust-2")
	require.NoError(t, err)
	require.NoError(t, holder.Lock(context.Background()))

	waiter, err := NewDistributedLock(conn, "/locks", "cust-2")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waiter.Lock(ctx), context.DeadlineExceeded)

	children, _, _ := conn.Children("/locks/cust-2")
	assert.Len(t, children, 1)
}

func TestSortBySequence(t *testing.T) {
	names := []string{"_c_b-lock-0000000003", "_c_z-lock-0000000001", "_c_a-lock-0000000002"}
	sortBySequence(names)
	assert.Equal(t, []string{"_c_z-lock-0000000001", "_c_a-lock-0000000002", "_c_b-lock-0000000003"}, names)
}
