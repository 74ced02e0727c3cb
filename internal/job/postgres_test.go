package job

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// newPostgresTestStore connects to FIBQUEUE_TEST_DATABASE_URL and empties the tables.
func newPostgresTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := os.Getenv("FIBQUEUE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FIBQUEUE_TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresStore(dsn, 8)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	if _, err := store.db.Exec(`TRUNCATE jobs, job_queue, results, dead_letters`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgres_FIFOAndResults(t *testing.T) {
	ctx := context.Background()
	store := newPostgresTestStore(t)

	first := uuid.New().String()
	second := uuid.New().String()
	mustEnqueue(t, store, makeJob(first, "10"))
	if n := mustEnqueue(t, store, makeJob(second, "11")); n != 2 {
		t.Errorf("queue length = %d, want 2", n)
	}

	j, err := store.Dequeue(ctx)
	if err != nil || j == nil || j.ID != first {
		t.Fatalf("Dequeue = %+v, %v, want %s", j, err, first)
	}

	if err := store.PutResult(ctx, 10, 55); err != nil {
		t.Fatalf("PutResult: %v", err)
	}
	v, found, err := store.GetResult(ctx, 10)
	if err != nil || !found || v != 55 {
		t.Errorf("GetResult(10) = %d, %v, %v", v, found, err)
	}
}

func TestPostgres_ConcurrentDequeue(t *testing.T) {
	ctx := context.Background()
	store := newPostgresTestStore(t)

	const jobs = 40
	for i := 0; i < jobs; i++ {
		mustEnqueue(t, store, makeJob(fmt.Sprintf("pg-%02d", i), "1"))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := store.Dequeue(ctx)
				if err != nil {
					t.Errorf("Dequeue: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("dequeued %d distinct jobs, want %d", len(seen), jobs)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s dequeued %d times", id, n)
		}
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	got := postgresDialect.rebind(`UPDATE jobs SET status = ? WHERE id = ?`)
	want := `UPDATE jobs SET status = $1 WHERE id = $2`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	if got := sqliteDialect.rebind(`SELECT ?`); got != `SELECT ?` {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
