package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/frontdesk-service/internal/docstore"
)

type doc struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func TestCreateReadList(t *testing.T) {
	ctx := context.Background()
	st := New()

	first, err := st.Create(ctx, "appointments", doc{Name: "Ana", Status: "scheduled"})
	require.NoError(t, err)
	second, err := st.Create(ctx, "appointments", doc{Name: "Ben", Status: "scheduled"})
	require.NoError(t, err)

	var got doc
	found, err := st.Read(ctx, "appointments/"+first, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ana", got.Name)

	docs, err := st.List(ctx, "appointments")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, first, docs[0].ID)
	assert.Equal(t, second, docs[1].ID)

	found, err = st.Read(ctx, "appointments/missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	st := New()
	id, err := st.Create(ctx, "appointments", doc{Name: "Ana", Status: "scheduled"})
	require.NoError(t, err)

	require.NoError(t, st.Update(ctx, "appointments/"+id, map[string]interface{}{"status": "missed"}))

	var got doc
	_, err = st.Read(ctx, "appointments/"+id, &got)
	require.NoError(t, err)
	assert.Equal(t, doc{Name: "Ana", Status: "missed"}, got)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	st := New()
	boom := errors.New("boom")
	st.FailWrites("appointments/b", boom)

	err := st.Apply(ctx,
		docstore.Write{Path: "appointments/a", Value: doc{Name: "Ana"}},
		docstore.Write{Path: "appointments/b", Value: doc{Name: "Ben"}},
	)
	require.ErrorIs(t, err, boom)

	found, err := st.Read(ctx, "appointments/a", nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestApplyChecksExpectations(t *testing.T) {
	ctx := context.Background()
	st := New()
	require.NoError(t, st.Apply(ctx, docstore.Write{Path: "appointments/a", Value: doc{Name: "Ana", Status: "scheduled"}}))

	err := st.Apply(ctx,
		docstore.Write{Path: "queue/2024-05-01/q1", Value: doc{Name: "Ana"}},
		docstore.Write{
			Path:   "appointments/a",
			Expect: map[string]interface{}{"status": "checked-in"},
			Fields: map[string]interface{}{"status": "completed"},
		},
	)
	require.ErrorIs(t, err, docstore.ErrPreconditionFailed)

	found, err := st.Read(ctx, "queue/2024-05-01/q1", nil)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.Apply(ctx, docstore.Write{
		Path:   "appointments/a",
		Expect: map[string]interface{}{"status": "scheduled"},
		Fields: map[string]interface{}{"status": "missed"},
	}))
	var got doc
	_, err = st.Read(ctx, "appointments/a", &got)
	require.NoError(t, err)
	assert.Equal(t, "missed", got.Status)
}

func TestChildKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	st := New()
	_, err := st.Create(ctx, "queue/2024-05-01", doc{Name: "a"})
	require.NoError(t, err)
	_, err = st.Create(ctx, "queue/2024-05-02", doc{Name: "b"})
	require.NoError(t, err)

	keys, err := st.ChildKeys(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-01", "2024-05-02"}, keys)

	require.NoError(t, st.Delete(ctx, "queue/2024-05-01"))
	keys, err = st.ChildKeys(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-02"}, keys)
}

func TestIncrementIsAtomic(t *testing.T) {
	ctx := context.Background()
	st := New()
	var wg sync.WaitGroup
	seen := make(chan int64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := st.Increment(ctx, "queue_sequences/2024-05-01")
			assert.NoError(t, err)
			seen <- n
		}()
	}
	wg.Wait()
	close(seen)
	unique := make(map[int64]bool)
	for n := range seen {
		unique[n] = true
	}
	assert.Len(t, unique, 50)
	assert.True(t, unique[1])
	assert.True(t, unique[50])
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := New()

	var mu sync.Mutex
	var sizes []int
	unsubscribe, err := st.Subscribe(ctx, "queue/2024-05-01", func(docs []docstore.Document) {
		mu.Lock()
		sizes = append(sizes, len(docs))
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = st.Create(ctx, "queue/2024-05-01", doc{Name: "a"})
	require.NoError(t, err)
	_, err = st.Create(ctx, "queue/2024-05-02", doc{Name: "other partition"})
	require.NoError(t, err)
	unsubscribe()
	_, err = st.Create(ctx, "queue/2024-05-01", doc{Name: "after unsubscribe"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1}, sizes)
}
