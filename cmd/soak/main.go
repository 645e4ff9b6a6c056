// Soak test runner for long-duration controller testing.
//
// This tool simulates a variable-capacity link and monitors the adaptive
// bitrate controller for memory leaks, stuck decisions and target anomalies
// over extended periods.
//
// Usage:
//
//	go run ./cmd/soak -duration 24h
//	go run ./cmd/soak -duration 1h  # shorter test
//
// Exposes pprof endpoint at :6060 for live profiling:
//
//	curl http://localhost:6060/debug/pprof/heap > heap.pprof
//	go tool pprof heap.pprof
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // Enable pprof endpoints
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/streamware/abr/pkg/abr"
)

const (
	statusIntervalMinutes = 5
	memoryLimitMB         = 100
)

// SoakResult contains the results of a soak test run.
type SoakResult struct {
	Duration         time.Duration
	Decisions        int
	BitrateChanges   int
	Stalls           int
	FinalTarget      int64
	PeakHeapMB       float64
	TotalGCCycles    uint32
	SuspiciousEvents int
	Status           string
}

// simulatedLink models a path whose capacity drifts over time. RTT and send
// buffer occupancy respond to how far the applied bitrate exceeds capacity.
// It serves as both the stats source and the encoder of one controller.
type simulatedLink struct {
	mu          sync.Mutex
	rng         *rand.Rand
	capacityBps int64
	appliedBps  int64
	rttMs       int
	buffer      int
	acks        uint64
}

func newSimulatedLink(seed int64) *simulatedLink {
	return &simulatedLink{
		rng:         rand.New(rand.NewSource(seed)),
		capacityBps: 4_000_000,
		appliedBps:  300_000,
		rttMs:       40,
	}
}

// SetBitrate implements abr.Encoder.
func (l *simulatedLink) SetBitrate(bps int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appliedBps = bps
	return nil
}

// Sample implements abr.StatsSource.
func (l *simulatedLink) Sample() (abr.TransportSample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Capacity random walk between 500 kbps and 8 Mbps.
	l.capacityBps += int64(l.rng.Intn(200_001) - 100_000)
	if l.capacityBps < 500_000 {
		l.capacityBps = 500_000
	}
	if l.capacityBps > 8_000_000 {
		l.capacityBps = 8_000_000
	}

	// Oversubscription queues packets and inflates the RTT; headroom
	// drains the queue again.
	over := l.appliedBps - l.capacityBps
	if over > 0 {
		l.buffer += int(over) / (8 * abr.PacketSizeBytes * 20)
		l.rttMs += 5
	} else {
		l.buffer -= 50
		if l.buffer < 0 {
			l.buffer = 0
		}
		if l.rttMs > 40 {
			l.rttMs -= 5
		}
	}

	l.acks++
	return abr.TransportSample{
		RTTMs:          l.rttMs + l.rng.Intn(5),
		SendBufferSize: l.buffer,
		ThroughputMbps: float64(min(l.appliedBps, l.capacityBps)) / 1e6,
		AckCount:       l.acks,
		Timestamp:      time.Now(),
	}, nil
}

func main() {
	duration := flag.Duration("duration", 24*time.Hour, "Test duration (e.g., 1h, 24h)")
	pprofPort := flag.Int("pprof-port", 6060, "Port for pprof HTTP server")
	flag.Parse()

	fmt.Printf("ABR Soak Test Runner\n")
	fmt.Printf("====================\n")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Pprof:    http://localhost:%d/debug/pprof/\n", *pprofPort)
	fmt.Printf("\n")

	go func() {
		addr := fmt.Sprintf(":%d", *pprofPort)
		if err := http.ListenAndServe(addr, nil); err != nil {
			fmt.Printf("Warning: pprof server failed: %v\n", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived %v, shutting down gracefully...\n", sig)
		cancel()
	}()

	result := runSoakTest(ctx, *duration)
	printSummary(result)

	if result.Status == "PASS" {
		os.Exit(0)
	}
	os.Exit(1)
}

func runSoakTest(ctx context.Context, duration time.Duration) SoakResult {
	link := newSimulatedLink(time.Now().UnixNano())
	result := SoakResult{Status: "PASS"}

	var mu sync.Mutex
	controller, err := abr.New(link, link,
		abr.WithApplyInterval(time.Second),
		abr.WithOnBitrateChanged(func(bps int64) {
			mu.Lock()
			result.BitrateChanges++
			mu.Unlock()
		}),
		abr.WithOnLivenessStalled(func() {
			mu.Lock()
			result.Stalls++
			mu.Unlock()
			fmt.Printf("WARNING: liveness stall signaled\n")
		}),
	)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		result.Status = "FAIL"
		return result
	}

	cfg := controller.Config()
	updates, unsubscribe := controller.Subscribe()
	defer unsubscribe()

	controller.Start()
	defer controller.Stop()

	var memStats runtime.MemStats
	startTime := time.Now()
	lastStatusTime := startTime
	statusInterval := time.Duration(statusIntervalMinutes) * time.Minute

	fmt.Printf("[%s] Starting soak test...\n", formatDuration(0))

	for {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(startTime)
			return result

		case st := <-updates:
			elapsed := time.Since(startTime)
			if elapsed >= duration {
				result.Duration = elapsed
				return result
			}

			mu.Lock()
			result.Decisions++
			result.FinalTarget = st.TargetBitrateBps
			mu.Unlock()

			if st.TargetBitrateBps < cfg.MinBitrateBps || st.TargetBitrateBps > cfg.MaxBitrateBps {
				fmt.Printf("[%s] ERROR: target %d outside configured window\n",
					formatDuration(elapsed), st.TargetBitrateBps)
				result.SuspiciousEvents++
				result.Status = "FAIL"
			}

			if time.Since(lastStatusTime) >= statusInterval {
				lastStatusTime = time.Now()
				runtime.ReadMemStats(&memStats)

				heapMB := float64(memStats.HeapAlloc) / (1024 * 1024)
				if heapMB > result.PeakHeapMB {
					result.PeakHeapMB = heapMB
				}
				result.TotalGCCycles = memStats.NumGC

				fmt.Printf("[%s] Decisions: %d, Target: %.2f Mbps, Applied: %.2f Mbps (%s), HeapAlloc: %.2f MB, NumGC: %d\n",
					formatDuration(elapsed),
					result.Decisions,
					float64(st.TargetBitrateBps)/1e6,
					float64(st.CurrentBitrateBps)/1e6,
					st.Reason,
					heapMB,
					memStats.NumGC)

				if heapMB > memoryLimitMB {
					fmt.Printf("[%s] ERROR: Memory limit exceeded: %.2f MB\n", formatDuration(elapsed), heapMB)
					result.Status = "FAIL"
				}
			}
		}
	}
}

func printSummary(result SoakResult) {
	fmt.Printf("\n")
	fmt.Printf("Soak Test Complete\n")
	fmt.Printf("==================\n")
	fmt.Printf("Duration:          %v\n", result.Duration.Round(time.Second))
	fmt.Printf("Decisions:         %d\n", result.Decisions)
	fmt.Printf("Bitrate changes:   %d\n", result.BitrateChanges)
	fmt.Printf("Final target:      %.2f Mbps\n", float64(result.FinalTarget)/1e6)
	fmt.Printf("Liveness stalls:   %d\n", result.Stalls)
	fmt.Printf("Peak HeapAlloc:    %.2f MB\n", result.PeakHeapMB)
	fmt.Printf("Total GC cycles:   %d\n", result.TotalGCCycles)
	fmt.Printf("Suspicious events: %d\n", result.SuspiciousEvents)
	fmt.Printf("Status:            %s\n", result.Status)
	fmt.Printf("\n")

	fmt.Printf("Pass Criteria:\n")
	fmt.Printf("  - No panics:            %s\n", checkMark(true))
	fmt.Printf("  - Target inside window: %s\n", checkMark(result.SuspiciousEvents == 0))
	fmt.Printf("  - Peak memory < %d MB:  %s\n", memoryLimitMB, checkMark(result.PeakHeapMB < memoryLimitMB))
	fmt.Printf("  - No liveness stalls:   %s\n", checkMark(result.Stalls == 0))
}

func formatDuration(d time.Duration) string {
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func checkMark(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}
