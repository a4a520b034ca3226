package status

import (
	"sync"
	"testing"
	"time"

	"rentsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_DeliversInOrder(t *testing.T) {
	n := NewNotifier(nil)
	var order []string

	n.Subscribe(func(s models.Status) { order = append(order, "first") })
	n.Subscribe(func(s models.Status) { panic("broken badge renderer") })
	n.Subscribe(func(s models.Status) { order = append(order, "third") })

	require.NotPanics(t, func() { n.Publish(models.Status{Online: true, Pending: 2}) })
	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, models.Status{Online: true, Pending: 2}, n.Current())
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(nil)
	var got []int
	unsubscribe := n.Subscribe(func(s models.Status) { got = append(got, s.Pending) })

	n.Publish(models.Status{Pending: 1})
	unsubscribe()
	n.Publish(models.Status{Pending: 2})

	assert.Equal(t, []int{1}, got)
	assert.Equal(t, 2, n.Current().Pending)
}

func TestNotifier_CurrentIsACopy(t *testing.T) {
	n := NewNotifier(nil)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n.Publish(models.Status{LastSyncAt: &at})

	at = at.Add(time.Hour)
	cur := n.Current()
	require.NotNil(t, cur.LastSyncAt)
	assert.Equal(t, 3, cur.LastSyncAt.Hour())

	*cur.LastSyncAt = time.Time{}
	assert.Equal(t, 3, n.Current().LastSyncAt.Hour())
}

func TestNotifier_Close(t *testing.T) {
	n := NewNotifier(nil)
	calls := 0
	n.Subscribe(func(models.Status) { calls++ })

	n.Close()
	n.Publish(models.Status{Online: true})

	assert.Equal(t, 0, calls)
	assert.True(t, n.Current().Online)
}

func TestNotifier_ListenerMayPublish(t *testing.T) {
	n := NewNotifier(nil)
	var got []int
	n.Subscribe(func(s models.Status) {
		got = append(got, s.Pending)
		if s.Pending == 1 {
			n.Publish(models.Status{Pending: 2})
			assert.Equal(t, []int{1}, got, "nested update waits for the current one")
		}
	})
	n.Subscribe(func(s models.Status) { got = append(got, s.Pending*10) })

	done := make(chan struct{})
	go func() {
		n.Publish(models.Status{Pending: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish from a listener did not return")
	}
	assert.Equal(t, []int{1, 10, 2, 20}, got)
	assert.Equal(t, 2, n.Current().Pending)
}

func TestNotifier_ConcurrentPublishersKeepOrder(t *testing.T) {
	n := NewNotifier(nil)
	var mu sync.Mutex
	var first, second []int
	n.Subscribe(func(s models.Status) {
		mu.Lock()
		first = append(first, s.Pending)
		mu.Unlock()
	})
	n.Subscribe(func(s models.Status) {
		mu.Lock()
		second = append(second, s.Pending)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n.Publish(models.Status{Pending: i})
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, first, 50)
	assert.Equal(t, first, second)
	assert.Equal(t, first[len(first)-1], n.Current().Pending)
}

func TestNotifier_RefreshRecordsLatestSnapshot(t *testing.T) {
	n := NewNotifier(nil)
	var mu sync.Mutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Refresh(func() models.Status {
				mu.Lock()
				defer mu.Unlock()
				counter++
				return models.Status{Pending: counter}
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, n.Current().Pending)
}
