package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"time"

	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/core"
	"tierkv/pkg/evict"
	"tierkv/pkg/protocol"

	"golang.org/x/sync/errgroup"
)

func main() {
	mode := flag.String("mode", "protocol", "protocol (HTTP vs TCP against a running server) or tier (in-process workload)")
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP API base URL")
	tcpAddr := flag.String("tcp", "localhost:9090", "TCP server address")
	nReq := flag.Int("n", 5000, "Number of requests per run")
	keys := flag.Int("keys", 20000, "tier mode: key space")
	hotCap := flag.Int64("hot", 2000, "tier mode: hot tier capacity")
	workers := flag.Int("workers", 8, "tier mode: concurrent workers")
	flag.Parse()

	switch *mode {
	case "protocol":
		runProtocol(*httpAddr, *tcpAddr, *nReq)
	case "tier":
		runTier(*nReq, *keys, *hotCap, *workers)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func runProtocol(httpAddr, tcpAddr string, n int) {
	fmt.Printf("tierkv Protocol Benchmark (N=%d)\n", n)
	fmt.Printf("  HTTP=%s  TCP=%s\n", httpAddr, tcpAddr)
	fmt.Println("---------------------------------------------------")

	fmt.Println(">> Starting HTTP Benchmark (JSON over HTTP 1.1)...")
	httpDuration := runHTTPBenchmark(httpAddr, n)
	fmt.Printf("   HTTP Time: %v | QPS: %.0f\n\n", httpDuration, float64(n)/httpDuration.Seconds())

	fmt.Println(">> Starting TCP Benchmark (Binary Protocol)...")
	tcpDuration := runTCPBenchmark(tcpAddr, n)
	fmt.Printf("   TCP  Time: %v | QPS: %.0f\n", tcpDuration, float64(n)/tcpDuration.Seconds())

	fmt.Println("---------------------------------------------------")
	fmt.Printf("TCP/HTTP speedup: %.2fx\n", httpDuration.Seconds()/tcpDuration.Seconds())
}

func runHTTPBenchmark(httpAddr string, n int) time.Duration {
	start := time.Now()
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 100,
		},
	}

	for i := 0; i < n; i++ {
		data := map[string]interface{}{
			"key":   i,
			"value": "bench_data",
		}
		jsonData, _ := json.Marshal(data)

		resp, err := client.Post(httpAddr+"/api/put", "application/json", bytes.NewReader(jsonData))
		if err != nil {
			log.Fatalf("HTTP Req failed: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return time.Since(start)
}

func runTCPBenchmark(addr string, n int) time.Duration {
	start := time.Now()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("TCP Connect failed: %v", err)
	}
	defer conn.Close()

	val := []byte("bench_data")
	for i := 0; i < n; i++ {
		if err := protocol.Encode(conn, protocol.OpPut, protocol.KeyBytes(common.KeyType(i)), val); err != nil {
			log.Fatalf("TCP Write failed: %v", err)
		}
		if _, err := protocol.Decode(conn); err != nil {
			log.Fatalf("TCP Read failed: %v", err)
		}
	}
	return time.Since(start)
}

// runTier drives a skewed GetOrCreate workload against an in-process tiered
// store while the eviction manager keeps the hot tier at hotCap. 80% of
// accesses go to the first 20% of the key space.
func runTier(n, keySpace int, hotCap int64, workers int) {
	dir, err := os.MkdirTemp("", "tierkv-bench-")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Default()
	cfg.Storage.Path = dir
	cfg.Eviction.HotCapacity = hotCap
	cfg.Eviction.Interval = 10 * time.Millisecond

	store, err := core.NewTieredStore(cfg.Storage, nil)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	evictor, err := evict.NewManager(store, cfg.Eviction, nil)
	if err != nil {
		log.Fatalf("eviction manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	evictDone := make(chan struct{})
	go func() {
		evictor.Run(ctx)
		close(evictDone)
	}()

	fmt.Printf("tierkv Tier Benchmark (N=%d, keys=%d, hot=%d, workers=%d)\n", n, keySpace, hotCap, workers)
	start := time.Now()

	hotKeys := keySpace / 5
	if hotKeys == 0 {
		hotKeys = 1
	}
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		seed := int64(w) + 1
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < n/workers; i++ {
				var key int
				if rng.Intn(10) < 8 {
					key = rng.Intn(hotKeys)
				} else {
					key = rng.Intn(keySpace)
				}
				if _, err := store.GetOrCreate(common.KeyType(key), 16); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("workload: %v", err)
	}
	elapsed := time.Since(start)

	cancel()
	<-evictDone

	stats := store.Stats()
	fmt.Println("---------------------------------------------------")
	fmt.Printf("   Time: %v | QPS: %.0f\n", elapsed, float64(n)/elapsed.Seconds())
	fmt.Printf("   Hot: %d  Cold: %d\n", store.SizeAt(common.TierHot), store.SizeAt(common.TierCold))
	fmt.Printf("   Creates: %d  Promotions: %d  Evictions: %d\n",
		stats.Creates.Load(), stats.Promotions.Load(), stats.Evictions.Load())
	fmt.Printf("   Eviction runs: %d\n", evictor.Stats()["runs"])
}
