package perftests

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/broadcast"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
)

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (min, max, avg, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	min = latencies[0]
	max = latencies[len(latencies)-1]

	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	avg = total / time.Duration(len(latencies))
	p95 = latencies[int(0.95*float64(len(latencies)))]
	p99 = latencies[int(0.99*float64(len(latencies)))]
	return
}

// newEngine builds a service over an in-memory repository and a hub without sinks
func newEngine(b *testing.B) *bidding.BiddingService {
	b.Helper()
	hub := broadcast.NewHub(broadcast.Options{})
	svc := bidding.NewBiddingService(repository.NewMemoryRepo(), hub)
	b.Cleanup(func() {
		svc.Close()
		hub.Close()
	})
	return svc
}

// openAuctions creates n live auctions starting at 50 with an increment of 1
func openAuctions(b *testing.B, svc *bidding.BiddingService, n int, label string) []string {
	b.Helper()
	now := time.Now().UTC()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		a, err := svc.CreateAuction(model.NewAuction{
			Title:       fmt.Sprintf("%s %d", label, i),
			Description: "Benchmark lot",
			StartingBid: model.FromMajor(50),
			Increment:   model.FromMajor(1),
			StartTime:   now,
			EndTime:     now.Add(time.Hour),
		})
		if err != nil {
			b.Fatalf("failed to create auction: %v", err)
		}
		ids[i] = a.AuctionID
	}
	return ids
}
