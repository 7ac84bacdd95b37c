package lifecycle

import (
	"regexp"
	"testing"

	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) (*Controller, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := &Controller{
		store:          store,
		locks:          newClusterLocks(),
		maxRemediation: 2,
	}
	return c, store
}

var generatedNameRe = regexp.MustCompile(`^[a-z0-9_]+-[a-z0-9_]+-\d{8}-\d{4}-[0-9a-f]{8}$`)

func TestGenerateUniqueNameMatchesContract(t *testing.T) {
	c, _ := newTestController(t)

	name, err := c.generateUniqueName("shop", "php_web")
	require.NoError(t, err)
	assert.Regexp(t, generatedNameRe, name)
}

func TestGenerateUniqueNameRetriesOnCollision(t *testing.T) {
	c, store := newTestController(t)

	name, err := c.generateUniqueName("shop", "php_web")
	require.NoError(t, err)

	require.NoError(t, store.CreateCluster(&types.Cluster{ID: "c1", Name: name}))

	name2, err := c.generateUniqueName("shop", "php_web")
	require.NoError(t, err)
	assert.NotEqual(t, name, name2)
}

func TestLockSerializesPerCluster(t *testing.T) {
	locks := newClusterLocks()
	order := make([]int, 0, 2)

	done := make(chan struct{})
	go func() {
		_ = locks.withLock("c1", func() error {
			order = append(order, 1)
			return nil
		})
		done <- struct{}{}
	}()
	<-done

	_ = locks.withLock("c1", func() error {
		order = append(order, 2)
		return nil
	})

	assert.Equal(t, []int{1, 2}, order)
}
