package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-query-sync/pkg/di"
	"github.com/goliatone/go-query-sync/querysync"
	"github.com/goliatone/go-query-sync/realtime"
)

// Quote is the demo entity. The sync layer itself never learns its shape;
// it only sees cache keys derived from the type name.
type Quote struct {
	bun.BaseModel `bun:"table:quotes"`

	ID       string `bun:"id,pk"`
	Customer string `bun:"customer"`
	Status   string `bun:"status"`
	Total    int64  `bun:"total"`
}

// quoteRepository backs the demo with a real sqlite table through bun. It
// implements the repoquery repository surface directly; swap in a
// go-repository-bun repository for production models.
type quoteRepository struct {
	db *bun.DB
}

func (r *quoteRepository) Get(ctx context.Context, criteria ...repository.SelectCriteria) (Quote, error) {
	var quote Quote
	q := r.db.NewSelect().Model(&quote).Limit(1)
	for _, c := range criteria {
		q = c(q)
	}
	if err := q.Scan(ctx); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

func (r *quoteRepository) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (Quote, error) {
	var quote Quote
	q := r.db.NewSelect().Model(&quote).Where("id = ?", id)
	for _, c := range criteria {
		q = c(q)
	}
	if err := q.Scan(ctx); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

func (r *quoteRepository) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]Quote, int, error) {
	var quotes []Quote
	q := r.db.NewSelect().Model(&quotes).Order("id")
	for _, c := range criteria {
		q = c(q)
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return quotes, total, nil
}

func (r *quoteRepository) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	q := r.db.NewSelect().Model((*Quote)(nil))
	for _, c := range criteria {
		q = c(q)
	}
	return q.Count(ctx)
}

func (r *quoteRepository) Create(ctx context.Context, record Quote, criteria ...repository.InsertCriteria) (Quote, error) {
	q := r.db.NewInsert().Model(&record)
	for _, c := range criteria {
		q = c(q)
	}
	if _, err := q.Exec(ctx); err != nil {
		return Quote{}, err
	}
	return record, nil
}

func (r *quoteRepository) Update(ctx context.Context, record Quote, criteria ...repository.UpdateCriteria) (Quote, error) {
	q := r.db.NewUpdate().Model(&record).WherePK()
	for _, c := range criteria {
		q = c(q)
	}
	if _, err := q.Exec(ctx); err != nil {
		return Quote{}, err
	}
	return record, nil
}

func (r *quoteRepository) Upsert(ctx context.Context, record Quote, criteria ...repository.UpdateCriteria) (Quote, error) {
	if _, err := r.db.NewInsert().Model(&record).On("CONFLICT (id) DO UPDATE").Exec(ctx); err != nil {
		return Quote{}, err
	}
	return record, nil
}

func (r *quoteRepository) Delete(ctx context.Context, record Quote) error {
	_, err := r.db.NewDelete().Model(&record).WherePK().Exec(ctx)
	return err
}

// localFeed stands in for a push change-feed client. The demo emits events
// by hand after writing around the sync layer, playing the part of "someone
// else changed the data".
type localFeed struct {
	mu      sync.Mutex
	streams []*localStream
}

func (f *localFeed) Subscribe(ctx context.Context, table, filter string) (realtime.ChangeStream, error) {
	s := &localStream{events: make(chan realtime.ChangeEvent, 16)}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.close(ctx.Err())
	}()
	return s, nil
}

func (f *localFeed) Emit(event realtime.ChangeEvent) {
	f.mu.Lock()
	streams := append([]*localStream(nil), f.streams...)
	f.mu.Unlock()
	for _, s := range streams {
		s.deliver(event)
	}
}

type localStream struct {
	mu     sync.Mutex
	events chan realtime.ChangeEvent
	err    error
	done   bool
}

func (s *localStream) Events() <-chan realtime.ChangeEvent { return s.events }

func (s *localStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *localStream) Close() error {
	s.close(nil)
	return nil
}

func (s *localStream) deliver(event realtime.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

func (s *localStream) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.events)
}

func main() {
	instanceID := uuid.NewString()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})).
		With("instanceID", instanceID)
	slog.SetDefault(logger)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	ctx := context.Background()

	sqldb, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		fail("Failed to open sqlite", "error", err.Error())
	}
	defer sqldb.Close()
	db := bun.NewDB(sqldb, sqlitedialect.New())

	if _, err := db.NewCreateTable().Model((*Quote)(nil)).Exec(ctx); err != nil {
		fail("Failed to create quotes table", "error", err.Error())
	}
	repo := &quoteRepository{db: db}

	seed := make([]Quote, 0, 25)
	for i := 1; i <= 25; i++ {
		seed = append(seed, Quote{
			ID:       fmt.Sprintf("q%03d", i),
			Customer: fmt.Sprintf("customer-%d", i%5+1),
			Status:   []string{"draft", "sent", "accepted"}[i%3],
			Total:    int64(i) * 250,
		})
	}
	if _, err := db.NewInsert().Model(&seed).Exec(ctx); err != nil {
		fail("Failed to seed quotes", "error", err.Error())
	}

	container, err := di.NewContainerWithDefaults()
	if err != nil {
		fail("Failed to build container", "error", err.Error())
	}
	defer container.Close()

	source, err := di.NewSource(container, repo)
	if err != nil {
		fail("Failed to build source", "error", err.Error())
	}

	fmt.Println("=== Paginated query over quotes ===")
	keyFn, fetchPage := source.PageFetcher(nil)
	paged, err := di.NewPaginated(container, keyFn, fetchPage, 10, querysync.DefaultQueryConfig())
	if err != nil {
		fail("Failed to build paginated query", "error", err.Error())
	}
	defer paged.Close()

	waitSettled := func(name string) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if st := paged.State(); st.HasData && !st.IsFetching {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		fail("Timed out waiting for " + name)
	}

	waitSettled("page 1")
	printPage := func() {
		st := paged.State()
		pg := paged.Pagination()
		fmt.Printf("  page %d/%d (%d quotes total, next=%v prev=%v)\n",
			pg.Page, pg.TotalPages, pg.Total, pg.HasNext, pg.HasPrev)
		for _, q := range st.Data.Items {
			fmt.Printf("    %s  %-10s %-8s %6d\n", q.ID, q.Customer, q.Status, q.Total)
		}
	}
	printPage()

	paged.NextPage()
	waitSettled("page 2")
	printPage()

	// Going back renders from cache; the repository is not consulted while
	// the page is fresh.
	paged.PrevPage()
	waitSettled("page 1 again")
	fmt.Println("  back to page 1, served from cache:")
	printPage()

	fmt.Println("=== Mutation invalidates, query refetches ===")
	create, err := source.CreateMutation(container.Store(), querysync.MutationConfig[Quote, Quote]{})
	if err != nil {
		fail("Failed to build mutation", "error", err.Error())
	}
	created, err := create.MutateAsync(ctx, Quote{
		ID:       "q" + uuid.NewString()[:8],
		Customer: "customer-new",
		Status:   "draft",
		Total:    9900,
	})
	if err != nil {
		fail("Mutation failed", "error", err.Error())
	}
	fmt.Printf("  created %s, cache invalidated\n", created.ID)

	time.Sleep(100 * time.Millisecond)
	waitSettled("post-mutation refetch")
	fmt.Printf("  total is now %d\n", paged.Pagination().Total)

	fmt.Println("=== Optimistic update with rollback ===")
	itemKey, fetchItem := source.GetFetcher("q001")
	itemQuery, err := di.NewQuery(container, itemKey, fetchItem, querysync.DefaultQueryConfig())
	if err != nil {
		fail("Failed to build item query", "error", err.Error())
	}
	defer itemQuery.Close()
	time.Sleep(50 * time.Millisecond)

	rollback := querysync.ApplyOptimisticUpdate(container.Store(), itemKey, func(current Quote, ok bool) Quote {
		current.Status = "accepted"
		return current
	})
	predicted, err := querysync.OptimisticValue[Quote](container.Store(), itemKey)
	if err != nil {
		fail("Optimistic read failed", "error", err.Error())
	}
	fmt.Printf("  predicted status: %s\n", predicted.Status)

	rollback()
	restored, err := querysync.OptimisticValue[Quote](container.Store(), itemKey)
	if err != nil {
		fail("Post-rollback read failed", "error", err.Error())
	}
	fmt.Printf("  after rollback:   %s\n", restored.Status)

	fmt.Println("=== Realtime bridge pushes invalidations ===")
	feed := &localFeed{}
	bridge, err := di.NewBridge(ctx, container, feed, realtime.Config{Table: "quotes"})
	if err != nil {
		fail("Failed to build bridge", "error", err.Error())
	}
	defer bridge.Close()

	unsub := bridge.OnChange(func(event realtime.ChangeEvent) {
		fmt.Printf("  change event: %s on %s row=%v\n", event.Type, event.Table, event.Row["id"])
	})
	defer unsub()

	// Write around the sync layer, the way another session would, then let
	// the feed report it.
	if _, err := db.NewUpdate().Model((*Quote)(nil)).
		Set("status = ?", "accepted").
		Where("id = ?", "q002").
		Exec(ctx); err != nil {
		fail("Out-of-band update failed", "error", err.Error())
	}
	feed.Emit(realtime.ChangeEvent{
		Type:  realtime.ChangeUpdate,
		Table: "quotes",
		Row:   map[string]any{"id": "q002", "status": "accepted"},
	})

	time.Sleep(100 * time.Millisecond)
	waitSettled("post-push refetch")
	for _, q := range paged.State().Data.Items {
		if q.ID == "q002" {
			fmt.Printf("  q002 status after push: %s\n", q.Status)
		}
	}

	fmt.Println("done")
}
