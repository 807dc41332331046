package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/pismenka-api/internal/config"
	"github.com/pismenka-api/internal/domain"
)

// Source is the live store the worker copies from
type Source interface {
	Results(ctx context.Context) []domain.Result
	Archive(ctx context.Context) []domain.ArchiveEntry
	AppendArchive(ctx context.Context, entry domain.ArchiveEntry, keep int) bool
}

// History is the durable store the worker copies into
type History interface {
	BatchInsertResults(ctx context.Context, results []domain.Result) (int64, error)
	RecordArchiveEntry(ctx context.Context, entry domain.ArchiveEntry) error
	ListArchive(ctx context.Context, limit int) ([]domain.ArchiveEntry, error)
}

// SyncWorker periodically copies results and archived days into history
type SyncWorker struct {
	source      Source
	history     History
	config      *config.SyncConfig
	archiveKeep int
	logger      *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool

	// what earlier cycles already delivered
	syncedResults map[int64]struct{}
	syncedArchive map[string]time.Time
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(source Source, history History, cfg *config.SyncConfig, archiveKeep int, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		source:        source,
		history:       history,
		config:        cfg,
		archiveKeep:   archiveKeep,
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		syncedResults: make(map[int64]struct{}),
		syncedArchive: make(map[string]time.Time),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process and waits for the loop to exit
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			// final flush so results from the last interval are not lost
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.RunOnce(flushCtx)
			cancel()
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) {
	startTime := time.Now()

	inserted, resultErr := w.syncResults(ctx)
	archived, archiveErr := w.syncArchive(ctx)

	if resultErr != nil {
		w.logger.Error("failed to sync results", "error", resultErr)
	}
	if archiveErr != nil {
		w.logger.Error("failed to sync archive", "error", archiveErr)
	}
	w.logger.Debug("sync cycle completed",
		"duration", time.Since(startTime),
		"results_inserted", inserted,
		"archive_recorded", archived,
	)
}

func (w *SyncWorker) syncResults(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	results := w.source.Results(ctx)
	pending := lo.Filter(results, func(r domain.Result, _ int) bool {
		_, done := w.syncedResults[r.ID]
		return !done
	})

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	var inserted int64
	for _, chunk := range lo.Chunk(pending, batchSize) {
		n, err := w.history.BatchInsertResults(ctx, chunk)
		if err != nil {
			n, err = w.insertOneByOne(ctx, chunk, err)
		}
		inserted += n
		if err != nil {
			return inserted, err
		}
		for _, r := range chunk {
			w.syncedResults[r.ID] = struct{}{}
		}
	}

	// forget ids the store has already evicted
	live := lo.Associate(results, func(r domain.Result) (int64, struct{}) {
		return r.ID, struct{}{}
	})
	for id := range w.syncedResults {
		if _, ok := live[id]; !ok {
			delete(w.syncedResults, id)
		}
	}
	return inserted, nil
}

// insertOneByOne retries a failed chunk row by row. A failed batch is rolled
// back as a whole, so one row the database refuses would block every later
// cycle. Rows that still fail while others go through are skipped; when no
// row goes through the history store is treated as down and batchErr is
// returned so the chunk is retried next cycle.
func (w *SyncWorker) insertOneByOne(ctx context.Context, chunk []domain.Result, batchErr error) (int64, error) {
	var inserted int64
	var rejected []int64
	delivered := 0
	for _, r := range chunk {
		n, err := w.history.BatchInsertResults(ctx, []domain.Result{r})
		if err != nil {
			rejected = append(rejected, r.ID)
			continue
		}
		inserted += n
		delivered++
	}
	if delivered == 0 {
		return inserted, batchErr
	}
	if len(rejected) > 0 {
		w.logger.Warn("skipping results history refused", "result_ids", rejected, "error", batchErr)
	}
	return inserted, nil
}

func (w *SyncWorker) syncArchive(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	recorded := 0
	for _, entry := range w.source.Archive(ctx) {
		if at, ok := w.syncedArchive[entry.Date]; ok && at.Equal(entry.CreatedAt) {
			continue
		}
		if err := w.history.RecordArchiveEntry(ctx, entry); err != nil {
			return recorded, err
		}
		w.syncedArchive[entry.Date] = entry.CreatedAt
		recorded++
	}
	return recorded, nil
}

// RestoreArchive refills an empty live archive from history, for example
// after the key-value store was flushed. It returns how many days were
// restored.
func (w *SyncWorker) RestoreArchive(ctx context.Context) (int, error) {
	if len(w.source.Archive(ctx)) > 0 {
		return 0, nil
	}

	entries, err := w.history.ListArchive(ctx, w.archiveKeep)
	if err != nil {
		return 0, err
	}

	// history lists newest first, the live archive is oldest first
	for i := len(entries) - 1; i >= 0; i-- {
		w.source.AppendArchive(ctx, entries[i], w.archiveKeep)
	}

	w.mu.Lock()
	for _, entry := range entries {
		w.syncedArchive[entry.Date] = entry.CreatedAt
	}
	w.mu.Unlock()

	if len(entries) > 0 {
		w.logger.Info("restored archive from history", "days", len(entries))
	}
	return len(entries), nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
