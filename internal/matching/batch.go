package matching

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// chunkSize is the number of invoices handed to one worker at a time.
const chunkSize = 10

// MatchBatch matches a set of invoices and aggregates the outcome. When
// parallel is requested (and enabled for the tenant) chunks are fanned
// out over a bounded worker pool sized by max_concurrent_jobs. Per-
// invoice failures are counted, logged and skipped; they never abort
// the batch. No ordering between invoices is promised.
func (e *Engine) MatchBatch(ctx context.Context, invoiceIDs []uuid.UUID, parallel bool) *models.ProcessingMetrics {
	start := time.Now()
	metrics := &models.ProcessingMetrics{TotalInvoices: len(invoiceIDs)}

	if !parallel || !e.cfg.Features.ParallelBatch || len(invoiceIDs) <= chunkSize {
		var mu sync.Mutex
		e.matchChunk(ctx, invoiceIDs, metrics, &mu)
		finishMetrics(metrics, start)
		return metrics
	}

	chunks := make([][]uuid.UUID, 0, (len(invoiceIDs)+chunkSize-1)/chunkSize)
	for i := 0; i < len(invoiceIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(invoiceIDs) {
			end = len(invoiceIDs)
		}
		chunks = append(chunks, invoiceIDs[i:end])
	}

	workers := e.cfg.MaxConcurrentJobs
	if workers <= 0 {
		workers = 4
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		feed = make(chan []uuid.UUID)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range feed {
				e.matchChunk(ctx, chunk, metrics, &mu)
			}
		}()
	}
	for _, chunk := range chunks {
		feed <- chunk
	}
	close(feed)
	wg.Wait()

	finishMetrics(metrics, start)
	e.log.Info("batch matching finished",
		zap.Int("invoices", metrics.TotalInvoices),
		zap.Int("exact", metrics.ExactMatches),
		zap.Int("fuzzy", metrics.FuzzyMatches),
		zap.Int("unmatched", metrics.NoMatches),
		zap.Int("errors", metrics.Errors),
		zap.Duration("elapsed", metrics.ElapsedTime))
	return metrics
}

// matchChunk processes one chunk sequentially, folding each decision
// into the shared metrics under the mutex.
func (e *Engine) matchChunk(ctx context.Context, ids []uuid.UUID, m *models.ProcessingMetrics, mu *sync.Mutex) {
	for _, id := range ids {
		decision, err := e.MatchOne(ctx, id, false)

		mu.Lock()
		switch {
		case err != nil:
			m.Errors++
			e.log.Error("match failed", zap.String("invoiceId", id.String()), zap.Error(err))
		case !decision.Matched:
			m.NoMatches++
		default:
			switch decision.Result.MatchType {
			case models.MatchTypeExact:
				m.ExactMatches++
			default:
				m.FuzzyMatches++
			}
			if decision.Result.AutoApproved {
				m.AutoApproved++
			}
			if decision.Result.RequiresReview {
				m.RequiresReview++
			}
			// MeanConfidence holds the running sum until finishMetrics.
			m.MeanConfidence += decision.Result.ConfidenceScore
		}
		mu.Unlock()
	}
}

func finishMetrics(m *models.ProcessingMetrics, start time.Time) {
	m.ElapsedTime = time.Since(start)
	if matched := m.ExactMatches + m.FuzzyMatches; matched > 0 {
		m.MeanConfidence /= float64(matched)
	}
}
