package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/sugawarayuuta/sonnet"

	_ "aether-ca/internal/aether"
	"aether-ca/internal/core"
)

type seedResult struct {
	Seed string `json:"seed"`
	// Steps is the number of steps run; when Stable the last one changed
	// nothing.
	Steps     int64  `json:"steps"`
	Stable    bool   `json:"stable"`
	MaxW      int    `json:"max_w"`
	Mass      string `json:"mass"`
	Conserved bool   `json:"conserved"`
	Err       string `json:"error,omitempty"`
}

type sweepConfig struct {
	dimension int
	numeric   string
	maxSteps  int64
}

func main() {
	dimension := flag.IntP("dimension", "d", 2, "lattice dimension, 1 to 4")
	numeric := flag.String("numeric", "int64", "cell value type")
	from := flag.Int64("from", 1, "first seed")
	to := flag.Int64("to", 200, "last seed")
	stride := flag.Int64("stride", 1, "distance between seeds")
	maxSteps := flag.Int64("max-steps", 100000, "give up on a seed after this many steps")
	workers := flag.Int("workers", runtime.NumCPU(), "number of worker goroutines")
	asJSON := flag.Bool("json", false, "print results as JSON")
	flag.Parse()

	if *stride <= 0 || *to < *from {
		fmt.Fprintln(os.Stderr, "aether-sweep: empty seed range")
		os.Exit(2)
	}
	seeds := seedRange(*from, *to, *stride)
	cfg := sweepConfig{dimension: *dimension, numeric: *numeric, maxSteps: *maxSteps}

	if !*asJSON {
		fmt.Printf("Sweeping %d seeds in %dD (%d workers, %s)\n", len(seeds), cfg.dimension, *workers, cfg.numeric)
	}
	start := time.Now()
	all := sweep(cfg, seeds, *workers)
	if *asJSON {
		b, err := sonnet.MarshalIndent(all, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", b)
		return
	}
	for _, res := range all {
		if res.Err != "" {
			fmt.Printf("seed=%s error: %s\n", res.Seed, res.Err)
			continue
		}
		fmt.Printf("seed=%s steps=%d stable=%v maxW=%d mass=%s conserved=%v\n",
			res.Seed, res.Steps, res.Stable, res.MaxW, res.Mass, res.Conserved)
	}
	fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))
}

// seedRange lists from, from+stride, ... up to to without overflowing.
func seedRange(from, to, stride int64) []int64 {
	var seeds []int64
	for s := from; ; s += stride {
		seeds = append(seeds, s)
		// the distance to the last seed always fits in a uint64
		if uint64(to)-uint64(s) < uint64(stride) {
			return seeds
		}
	}
}

// sweep runs one in-memory model per seed on a pool of workers and returns
// the results in seed order.
func sweep(cfg sweepConfig, seeds []int64, workers int) []seedResult {
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan int64)
	results := make(chan seedResult)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seed := range jobs {
				results <- runSeed(cfg, seed)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		for _, seed := range seeds {
			jobs <- seed
		}
		close(jobs)
	}()

	var all []seedResult
	for res := range results {
		all = append(all, res)
	}
	sort.Slice(all, func(i, j int) bool {
		a, _ := strconv.ParseInt(all[i].Seed, 10, 64)
		b, _ := strconv.ParseInt(all[j].Seed, 10, 64)
		return a < b
	})
	return all
}

func runSeed(cfg sweepConfig, seed int64) seedResult {
	res := seedResult{Seed: strconv.FormatInt(seed, 10)}
	factory, ok := core.Models()[cfg.numeric]
	if !ok {
		res.Err = fmt.Sprintf("unknown numeric type %q", cfg.numeric)
		return res
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	m, err := factory(core.Options{
		Config: map[string]string{
			"dimension": strconv.Itoa(cfg.dimension),
			"seed":      res.Seed,
			"storage":   "memory",
		},
		Log: log,
	})
	if err != nil {
		res.Err = err.Error()
		return res
	}
	defer m.Close()
	for m.Step() < cfg.maxSteps {
		changed, err := m.NextStep()
		if err != nil {
			res.Err = err.Error()
			return res
		}
		if !changed {
			res.Stable = true
			break
		}
	}
	res.Steps = m.Step()
	res.MaxW = m.AsymmetricMax(0)
	if res.Mass, err = m.MassString(); err != nil {
		res.Err = err.Error()
		return res
	}
	res.Conserved = res.Mass == res.Seed
	return res
}
