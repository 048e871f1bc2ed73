// memstress hammers a set of off-heap slots from many goroutines with a
// mix of reads, exchanges, and compare-exchanges, then reports what the
// optimistic protocol did: how often operations completed, how often they
// lost a race and retried, and what the arena and pool look like after.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bpowers/offheap"
	"github.com/bpowers/offheap/blockpool"
)

var (
	goroutines = flag.Int("goroutines", 8, "concurrent workers")
	slots      = flag.Int("slots", 64, "number of slots to hammer")
	duration   = flag.Duration("duration", 5*time.Second, "how long to run")
	blockSize  = flag.Int("block-size", 4<<20, "pool block size in bytes")
	blocks     = flag.Int("blocks", 4, "initial pool block count")
	readPct    = flag.Int("read-pct", 70, "percent of operations that are reads")
	casPct     = flag.Int("cas-pct", 10, "percent of operations that are compare-exchanges")
	valueLen   = flag.Int("value-len", 32, "payload length in bytes")
	verbose    = flag.Bool("v", false, "log pool activity at debug level")
)

type counters struct {
	reads, exchanges, cas atomic.Uint64
	retries, rejected     atomic.Uint64
}

func value(worker, n int) string {
	s := fmt.Sprintf("w%d-%d-", worker, n)
	for len(s) < *valueLen {
		s += "x"
	}
	return s[:*valueLen]
}

func worker(id int, a *offheap.Arena, ss []*offheap.Slot, stop <-chan struct{}, c *counters) {
	rng := rand.New(rand.NewSource(int64(id) + 1))
	ctxs := make([]*offheap.Context, len(ss))
	for i, s := range ss {
		ctxs[i] = a.NewContext().Bind(s)
	}
	for n := 0; ; n++ {
		select {
		case <-stop:
			return
		default:
		}
		i := rng.Intn(len(ss))
		ctx := ctxs[i]
		var st offheap.Status
		var err error
		switch p := rng.Intn(100); {
		case p < *readPct:
			_, st = offheap.Read(ctx, offheap.DecodeString)
			c.reads.Add(1)
		case p < *readPct+*casPct:
			old, rst := offheap.Read(ctx, offheap.DecodeString)
			if rst != offheap.Done {
				st = rst
				break
			}
			st, err = offheap.CompareExchange(ctx, old, value(id, n), offheap.EncodeString)
			c.cas.Add(1)
		default:
			_, st, err = offheap.Exchange(ctx, value(id, n), offheap.DecodeString, offheap.EncodeString)
			c.exchanges.Add(1)
		}
		if err != nil {
			slog.Error("operation failed", "worker", id, "err", err)
			return
		}
		switch st {
		case offheap.Retry:
			c.retries.Add(1)
			ctx.Refresh()
		case offheap.Rejected:
			c.rejected.Add(1)
			ctx.Refresh()
		}
	}
}

func run() error {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	pool, err := blockpool.New(blockpool.Config{
		BlockSize:    *blockSize,
		InitialCount: *blocks,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	a := offheap.NewArenaWithPool(pool)
	defer a.Close()

	ss := make([]*offheap.Slot, *slots)
	seed := a.NewContext()
	for i := range ss {
		ss[i] = new(offheap.Slot)
		if st, err := offheap.Put(seed.Bind(ss[i]), value(0, i), offheap.EncodeString); err != nil {
			return err
		} else if st != offheap.Done {
			return fmt.Errorf("seeding slot %d: %s", i, st)
		}
	}

	var c counters
	stop := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()
	for id := 0; id < *goroutines; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id, a, ss, stop, &c)
		}(id)
	}
	time.Sleep(*duration)
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	total := c.reads.Load() + c.exchanges.Load() + c.cas.Load()
	fmt.Printf("ran %d ops in %v (%.0f ops/sec)\n", total, elapsed.Round(time.Millisecond),
		float64(total)/elapsed.Seconds())
	fmt.Printf("  reads      %d\n", c.reads.Load())
	fmt.Printf("  exchanges  %d\n", c.exchanges.Load())
	fmt.Printf("  cas        %d\n", c.cas.Load())
	fmt.Printf("  retries    %d\n", c.retries.Load())
	fmt.Printf("  rejected   %d\n", c.rejected.Load())
	fmt.Printf("arena:\n%s", a.Stats())
	fmt.Printf("pool:\n%s", pool.Stats())
	return nil
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "memstress: %s\n", err)
		os.Exit(1)
	}
}
