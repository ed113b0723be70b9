package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cyclecal/internal/client"
	"cyclecal/internal/event"
	"cyclecal/internal/model"
	"cyclecal/internal/rider"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDuration     = 60 * time.Second     // 1 minute stress test
	defaultReaders      = 8                    // Workers for read operations
	defaultWriters      = 4                    // Workers for mutations
	defaultRequestDelay = 5 * time.Millisecond // Throttle requests
)

var (
	httpAddr     = getEnv("SERVER_URL", "http://localhost:8080")
	duration     = getDurationEnv("STRESS_DURATION", defaultDuration)
	readers      = getIntEnv("READ_CONCURRENCY", defaultReaders)
	writers      = getIntEnv("WRITE_CONCURRENCY", defaultWriters)
	requestDelay = getDurationEnv("REQUEST_DELAY", defaultRequestDelay)
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

type opStats struct {
	Success     uint64
	Failed      uint64
	RateLimited uint64
}

func (s *opStats) record(err error) {
	var statusErr *client.StatusError
	switch {
	case err == nil:
		atomic.AddUint64(&s.Success, 1)
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests:
		atomic.AddUint64(&s.RateLimited, 1)
	default:
		atomic.AddUint64(&s.Failed, 1)
	}
}

func (s *opStats) recordResult(res client.Result) {
	switch {
	case res.Success:
		atomic.AddUint64(&s.Success, 1)
	case res.Message == "rate limit exceeded":
		atomic.AddUint64(&s.RateLimited, 1)
	default:
		atomic.AddUint64(&s.Failed, 1)
	}
}

type loadTest struct {
	api   *client.Client
	store *client.EventStore

	mu     sync.Mutex
	events []model.Event
}

func (lt *loadTest) pick() (model.Event, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if len(lt.events) == 0 {
		return model.Event{}, false
	}
	return lt.events[rand.Intn(len(lt.events))], true
}

// listEvents reads every discipline, bypassing the local cache so each call
// reaches the server.
func (lt *loadTest) listEvents(ctx context.Context, stats *opStats) {
	lt.api.ClearCache(ctx)
	var all []model.Event
	for _, d := range model.Disciplines {
		events, err := lt.api.EventsByType(ctx, d)
		stats.record(err)
		if err != nil {
			return
		}
		all = append(all, events...)
	}
	lt.store.Load(all)
	lt.mu.Lock()
	lt.events = all
	lt.mu.Unlock()
}

func (lt *loadTest) fetchRiders(ctx context.Context, stats *opStats) {
	ev, ok := lt.pick()
	if !ok {
		return
	}
	_, err := lt.api.RiderLists(ctx, ev.EventType, ev.ID, time.Now())
	stats.record(err)
}

func (lt *loadTest) submitSpecial(ctx context.Context, stats *opStats) {
	res := lt.api.SubmitSpecialEvent(ctx, event.SpecialEventRequest{
		Name:  "Load " + uuid.NewString()[:8],
		Date:  time.Now().AddDate(0, 0, rand.Intn(90)).Format("2006-01-02"),
		City:  "Testville",
		State: "CA",
	})
	stats.recordResult(res)
}

// churnRiders adds a rider and moves them to committed through the
// optimistic store, exercising per-event serialization under load.
func (lt *loadTest) churnRiders(ctx context.Context, stats *opStats) {
	ev, ok := lt.pick()
	if !ok {
		return
	}
	name := "rider-" + uuid.NewString()[:8]
	res := lt.store.AddInterested(ctx, ev.EventType, ev.ID, name)
	stats.recordResult(res)
	if !res.Success {
		return
	}
	stats.recordResult(lt.store.MoveRider(ctx, ev.EventType, ev.ID, rider.Interested, rider.Committed, name, ""))
}

// stressOperation runs a function continuously until the context expires
func stressOperation(ctx context.Context, fn func(context.Context, *opStats), stats *opStats) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fn(ctx, stats)
			time.Sleep(requestDelay)
		}
	}
}

func main() {
	api := client.New(client.Opts{
		BaseURL:    httpAddr,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	lt := &loadTest{api: api, store: client.NewEventStore(api, zap.NewNop())}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	operations := []struct {
		name    string
		fn      func(context.Context, *opStats)
		stats   opStats
		workers int
	}{
		{"ListEvents", lt.listEvents, opStats{}, readers},
		{"FetchRiders", lt.fetchRiders, opStats{}, readers},
		{"SubmitSpecialEvent", lt.submitSpecial, opStats{}, 1},
		{"ChurnRiders", lt.churnRiders, opStats{}, writers},
	}

	log.Printf("Starting stress test for %v with %d readers and %d writers against %s", duration, readers, writers, httpAddr)

	g, gctx := errgroup.WithContext(ctx)
	for i := range operations {
		op := &operations[i]
		for j := 0; j < op.workers; j++ {
			g.Go(func() error {
				return stressOperation(gctx, op.fn, &op.stats)
			})
		}
	}
	if err := g.Wait(); err != nil {
		log.Printf("Stress test aborted: %v", err)
	}

	log.Println("Stress Test Report:")
	log.Println("===================")
	var totalRequests, totalSuccess uint64
	for _, op := range operations {
		total := op.stats.Success + op.stats.Failed + op.stats.RateLimited
		totalRequests += total
		totalSuccess += op.stats.Success
		log.Printf("%s:", op.name)
		log.Printf("  Total Requests: %d", total)
		log.Printf("  Success: %d", op.stats.Success)
		log.Printf("  Failed: %d", op.stats.Failed)
		log.Printf("  Rate Limited: %d", op.stats.RateLimited)
	}

	successRate := 0.0
	if totalRequests > 0 {
		successRate = float64(totalSuccess) / float64(totalRequests) * 100
	}
	log.Printf("Summary:")
	log.Printf("  Total Requests: %d", totalRequests)
	log.Printf("  Total Success: %d (%.2f%%)", totalSuccess, successRate)
	log.Println("===================")
}
