// Package main - feeder
// Load generator for the pilot server: many dashboard clients issuing
// FEED, SNAPSHOT and HISTORY commands over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/stat"

	"github.com/MRamiBalles/BiogasPilot/server/internal/protocol"
)

// Config for the feeder
type Config struct {
	ServerURL       string
	NumClients      int
	CommandInterval time.Duration
	TestDuration    time.Duration
	FeedShare       float64 // Fraction of commands that are FEED
	OutputPath      string
}

// Stats tracks performance metrics
type Stats struct {
	CommandsSent   int64
	FramesReceived int64
	Acks           int64
	RateLimited    int64
	Rejected       int64
	EventFrames    int64
	Errors         int64

	mu        sync.Mutex
	latencies []float64 // Milliseconds, command to reply
}

func (s *Stats) observe(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, float64(d)/float64(time.Millisecond))
	s.mu.Unlock()
}

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	numClients := flag.Int("clients", 20, "Number of concurrent clients")
	interval := flag.Duration("interval", 250*time.Millisecond, "Command interval per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	feedShare := flag.Float64("feed-share", 0.3, "Fraction of commands that request a feed")
	out := flag.String("out", "feeder_results.json", "Results file, empty to skip")
	flag.Parse()

	config := Config{
		ServerURL:       *serverURL,
		NumClients:      *numClients,
		CommandInterval: *interval,
		TestDuration:    *duration,
		FeedShare:       *feedShare,
		OutputPath:      *out,
	}

	fmt.Println("=========================================")
	fmt.Println("BIOGAS PILOT FEEDER - load tool")
	fmt.Println("=========================================")
	fmt.Printf("Server:   %s\n", config.ServerURL)
	fmt.Printf("Clients:  %d\n", config.NumClients)
	fmt.Printf("Interval: %v\n", config.CommandInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)
	fmt.Println("=========================================")

	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	stats := runLoad(ctx, config)
	printResults(stats, config)
}

func runLoad(ctx context.Context, config Config) *Stats {
	stats := &Stats{}
	var wg sync.WaitGroup

	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Printf("All %d clients started\n\n", config.NumClients)

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-progress.C:
				fmt.Printf("Progress: sent=%d recv=%d acks=%d limited=%d errors=%d\n",
					atomic.LoadInt64(&stats.CommandsSent),
					atomic.LoadInt64(&stats.FramesReceived),
					atomic.LoadInt64(&stats.Acks),
					atomic.LoadInt64(&stats.RateLimited),
					atomic.LoadInt64(&stats.Errors))
			}
		}
	}()

	wg.Wait()
	return stats
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, nil)
	if err != nil {
		log.Printf("client %d: connection failed: %v", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	var inflight sync.Map // request_id -> time.Time

	go func() {
		for {
			var f protocol.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			atomic.AddInt64(&stats.FramesReceived, 1)

			if f.RequestID != "" {
				if sent, ok := inflight.LoadAndDelete(f.RequestID); ok {
					stats.observe(time.Since(sent.(time.Time)))
				}
			}
			switch {
			case f.Type == protocol.TypeAck:
				atomic.AddInt64(&stats.Acks, 1)
			case f.Type == protocol.TypeError && f.Code == protocol.ErrRateLimit:
				atomic.AddInt64(&stats.RateLimited, 1)
			case f.Type == protocol.TypeError:
				atomic.AddInt64(&stats.Rejected, 1)
			case f.Seq > 0:
				atomic.AddInt64(&stats.EventFrames, 1)
			}
		}
	}()

	ticker := time.NewTicker(config.CommandInterval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			cmd := protocol.Command{
				Type:      pickCommand(config.FeedShare),
				RequestID: fmt.Sprintf("c%d-%d", clientID, n),
			}
			inflight.Store(cmd.RequestID, time.Now())
			if err := conn.WriteJSON(cmd); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.CommandsSent, 1)
		}
	}
}

func pickCommand(feedShare float64) string {
	r := rand.Float64()
	switch {
	case r < feedShare:
		return protocol.TypeFeed
	case r < feedShare+(1-feedShare)/2:
		return protocol.TypeSnapshot
	default:
		return protocol.TypeHistory
	}
}

func printResults(stats *Stats, config Config) {
	fmt.Println("\n=========================================")
	fmt.Println("FEEDER RESULTS")
	fmt.Println("=========================================")

	sent := atomic.LoadInt64(&stats.CommandsSent)
	errs := atomic.LoadInt64(&stats.Errors)
	throughput := float64(sent) / config.TestDuration.Seconds()

	fmt.Printf("Commands sent:    %d\n", sent)
	fmt.Printf("Frames received:  %d\n", atomic.LoadInt64(&stats.FramesReceived))
	fmt.Printf("Feeds accepted:   %d\n", atomic.LoadInt64(&stats.Acks))
	fmt.Printf("Rate limited:     %d\n", atomic.LoadInt64(&stats.RateLimited))
	fmt.Printf("Rejected:         %d\n", atomic.LoadInt64(&stats.Rejected))
	fmt.Printf("Event frames:     %d\n", atomic.LoadInt64(&stats.EventFrames))
	fmt.Printf("Errors:           %d\n", errs)
	fmt.Printf("Throughput:       %.2f cmd/sec\n", throughput)

	results := map[string]interface{}{
		"commands_sent":      sent,
		"frames_received":    atomic.LoadInt64(&stats.FramesReceived),
		"acks":               atomic.LoadInt64(&stats.Acks),
		"rate_limited":       atomic.LoadInt64(&stats.RateLimited),
		"errors":             errs,
		"throughput_per_sec": throughput,
		"config": map[string]interface{}{
			"clients":  config.NumClients,
			"interval": config.CommandInterval.String(),
			"duration": config.TestDuration.String(),
		},
	}

	stats.mu.Lock()
	lat := append([]float64(nil), stats.latencies...)
	stats.mu.Unlock()
	if len(lat) > 0 {
		sort.Float64s(lat)
		p50 := stat.Quantile(0.5, stat.Empirical, lat, nil)
		p90 := stat.Quantile(0.9, stat.Empirical, lat, nil)
		p99 := stat.Quantile(0.99, stat.Empirical, lat, nil)
		fmt.Printf("\nReply latency (ms):\n")
		fmt.Printf("  Mean: %.2f\n", stat.Mean(lat, nil))
		fmt.Printf("  P50:  %.2f\n  P90:  %.2f\n  P99:  %.2f\n", p50, p90, p99)
		results["latency_ms"] = map[string]float64{"p50": p50, "p90": p90, "p99": p99}
	}

	fmt.Println("\n-----------------------------------------")
	if errs == 0 {
		fmt.Println("PASSED: server handled the load")
	} else if float64(errs)/float64(sent+1) < 0.05 {
		fmt.Println("WARNING: some errors detected")
	} else {
		fmt.Println("FAILED: high error rate")
	}

	if config.OutputPath != "" {
		data, _ := json.MarshalIndent(results, "", "  ")
		if err := os.WriteFile(config.OutputPath, data, 0o644); err != nil {
			log.Printf("failed to write results: %v", err)
			return
		}
		fmt.Printf("Results saved to %s\n", config.OutputPath)
	}
}
