package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainChanges(d *Directory) {
	select {
	case <-d.Changes():
	default:
	}
}

func expectChange(t *testing.T, d *Directory) {
	t.Helper()
	select {
	case <-d.Changes():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a presence change signal")
	}
}

func expectNoChange(t *testing.T, d *Directory) {
	t.Helper()
	select {
	case <-d.Changes():
		t.Fatal("unexpected presence change signal")
	default:
	}
}

func TestRegisterAndLookup(t *testing.T) {
	d := NewDirectory()

	d.Register("alice", "conn-a")
	expectChange(t, d)

	id, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, ConnID("conn-a"), id)

	_, ok = d.Lookup("bob")
	assert.False(t, ok)
}

func TestRegisterOverwritesExistingHolder(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", "conn-a")
	d.Register("alice", "conn-b")

	id, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, ConnID("conn-b"), id)
	assert.Equal(t, 1, d.Len())
}

func TestUnregister(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", "conn-a")
	drainChanges(d)

	d.Unregister("alice")
	expectChange(t, d)
	_, ok := d.Lookup("alice")
	assert.False(t, ok)

	d.Unregister("alice")
	expectNoChange(t, d)
}

func TestReleaseOnlyRemovesCurrentHolder(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", "conn-a")
	d.Register("alice", "conn-b")
	drainChanges(d)

	assert.False(t, d.Release("alice", "conn-a"), "stale holder must not evict the new one")
	expectNoChange(t, d)

	id, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, ConnID("conn-b"), id)

	assert.True(t, d.Release("alice", "conn-b"))
	expectChange(t, d)
	assert.Empty(t, d.Snapshot())
}

func TestReleaseUnknownName(t *testing.T) {
	d := NewDirectory()
	assert.False(t, d.Release("ghost", "conn-x"))
	expectNoChange(t, d)
}

func TestSnapshotMatchesBoundNames(t *testing.T) {
	d := NewDirectory()
	d.Register("carol", "3")
	d.Register("alice", "1")
	d.Register("bob", "2")

	assert.Equal(t, []string{"alice", "bob", "carol"}, d.Snapshot())

	d.Release("bob", "2")
	assert.Equal(t, []string{"alice", "carol"}, d.Snapshot())
}

func TestChangesCoalesce(t *testing.T) {
	d := NewDirectory()
	for i := 0; i < 10; i++ {
		d.Register(fmt.Sprintf("user-%d", i), ConnID(fmt.Sprint(i)))
	}

	expectChange(t, d)
	expectNoChange(t, d)
	assert.Len(t, d.Snapshot(), 10)
}

func TestTouchSignalsWithoutMutation(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", "c1")
	drainChanges(d)

	d.Touch()
	d.Touch()
	expectChange(t, d)
	expectNoChange(t, d)
	assert.Equal(t, []string{"alice"}, d.Snapshot())
}

func TestConcurrentMutations(t *testing.T) {
	d := NewDirectory()
	const workers = 20

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", n)
			id := ConnID(fmt.Sprint(n))
			d.Register(name, id)
			_, _ = d.Lookup(name)
			_ = d.Snapshot()
			if n%2 == 0 {
				d.Release(name, id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers/2, d.Len())
}
