// Command dache-bench drives a configured fleet of cache hosts under
// concurrent load, exercising the full Client facade and giving the
// routing core's lock-ordering rules a runtime witness.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/menismu/dache"
	"github.com/menismu/dache/config"
	"github.com/menismu/dache/hostconn"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("dache-bench: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dache.New(ctx, cfg)
	if err != nil {
		log.Fatalf("dache-bench: starting client: %v", err)
	}
	defer client.Shutdown(context.Background())

	client.OnHostDisconnected(func(ep hostconn.Endpoint) {
		log.Printf("dache-bench: host disconnected: %s", ep)
	})

	const workers = 16
	var ops, failures atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				key := fmt.Sprintf("bench:%d:%d", id, i)
				writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := client.AddOrUpdate(writeCtx, key, i, dache.WriteOptions{})
				cancel()
				ops.Add(1)
				if err != nil {
					failures.Add(1)
					continue
				}

				readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				_, _, err = dache.TryGet[int](readCtx, client, key)
				cancel()
				ops.Add(1)
				if err != nil {
					failures.Add(1)
				}
			}
		}(w)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Printf("dache-bench: shutting down after %d ops (%d failures)", ops.Load(), failures.Load())
			return
		case <-ticker.C:
			log.Printf("dache-bench: %d ops so far (%d failures)", ops.Load(), failures.Load())
		}
	}
}
