package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polystore/polystore/cmd/util"
	"github.com/polystore/polystore/lib/storage"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for storage backends",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__perf"
	perfNumThreads = 10
	perfNumOps     = 10000
	perfKeySpread  = 100
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. create,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines to use for the benchmark"))
	key = "ops"
	perfTestCmd.Flags().Int(key, 10000, util.WrapString("Number of operations per benchmark"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfNumOps = viper.GetInt("ops")
	perfKeySpread = viper.GetInt("keys")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for storage backends")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Adapter: %s\n", viper.GetString("adapter"))
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Ops:     %d\n", perfNumOps)
	fmt.Printf("Keys:    %d\n", perfKeySpread)
	fmt.Println()

	fmt.Println("starting tests...")

	doc := map[string]interface{}{"benchmark": true, "payload": strings.Repeat("x", 64)}

	// Collect one timer per benchmark, in execution order for the report
	order := []string{"create", "get", "find", "update", "delete", "mixed"}
	results := make(map[string]metrics.Timer)

	results["create"] = runBench(ctx, "create", func(ctx context.Context, i int) error {
		_, err := store.Create(ctx, benchKey("create", i), doc)
		return err
	})
	cleanupBench(ctx, "create")

	seedBench(ctx, "get", doc)
	results["get"] = runBench(ctx, "get", func(ctx context.Context, i int) error {
		_, err := store.FindOne(ctx, storage.Match{Key: benchKey("get", i)})
		return err
	})
	cleanupBench(ctx, "get")

	seedBench(ctx, "find", doc)
	results["find"] = runBench(ctx, "find", func(ctx context.Context, i int) error {
		_, err := store.Find(ctx, storage.Match{Prefix: perfKeyPrefix + "/find/"})
		return err
	})
	cleanupBench(ctx, "find")

	seedBench(ctx, "update", doc)
	results["update"] = runBench(ctx, "update", func(ctx context.Context, i int) error {
		_, err := store.UpdateOne(ctx, storage.Match{Key: benchKey("update", i)}, map[string]interface{}{"i": i})
		return err
	})
	cleanupBench(ctx, "update")

	seedBench(ctx, "delete", doc)
	results["delete"] = runBench(ctx, "delete", func(ctx context.Context, i int) error {
		_, err := store.Delete(ctx, storage.Match{Key: benchKey("delete", i)})
		return err
	})
	cleanupBench(ctx, "delete")

	results["mixed"] = runBench(ctx, "mixed", func(ctx context.Context, i int) error {
		key := benchKey("mixed", i)
		var err error
		switch i % 4 {
		case 0:
			_, err = store.Create(ctx, key, doc)
		case 1:
			_, err = store.FindOne(ctx, storage.Match{Key: key})
		case 2:
			_, err = store.UpdateOne(ctx, storage.Match{Key: key}, map[string]interface{}{"i": i})
		case 3:
			_, err = store.Delete(ctx, storage.Match{Key: key})
		}
		return err
	})
	cleanupBench(ctx, "mixed")

	fmt.Println()
	for _, name := range order {
		printResult(name, results[name])
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, order, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// benchKey returns the i-th benchmark key of a test (with wraparound)
func benchKey(test string, i int) string {
	return fmt.Sprintf("%s/%s/%d", perfKeyPrefix, test, i%perfKeySpread)
}

// seedBench creates the working set a read-style benchmark operates on
func seedBench(ctx context.Context, test string, doc map[string]interface{}) {
	for i := 0; i < perfKeySpread; i++ {
		if _, err := store.Create(ctx, benchKey(test, i), doc); err != nil {
			fmt.Printf("(%s) - error seeding key: %v\n", test, err)
		}
	}
}

// cleanupBench removes everything a benchmark left behind
func cleanupBench(ctx context.Context, test string) {
	for i := 0; i < perfKeySpread; i++ {
		if _, err := store.Delete(ctx, storage.Match{Key: benchKey(test, i)}); err != nil {
			fmt.Printf("(%s) - error deleting key: %v\n", test, err)
		}
	}
}

// runBench spreads perfNumOps invocations of fn over perfNumThreads
// goroutines and records every invocation in a timer
func runBench(ctx context.Context, test string, fn func(ctx context.Context, i int) error) metrics.Timer {
	timer := metrics.NewTimer()
	if shouldSkip(test) {
		return timer
	}

	var wg sync.WaitGroup
	perThread := perfNumOps / perfNumThreads

	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				start := time.Now()
				if err := fn(ctx, offset+i); err != nil {
					fmt.Printf("(%s) - operation error: %v\n", test, err)
				}
				timer.UpdateSince(start)
			}
		}(t * perThread)
	}
	wg.Wait()

	return timer
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, timer metrics.Timer) {
	if timer.Count() == 0 {
		fmt.Printf("%-10sskipped\n", test)
		return
	}

	mean := timer.Mean()
	opsPerSec := 1e9 / mean

	fmt.Printf("%-10s%.0fns/op (%s/op)\tp95 %s\t%.0f ops/sec\n",
		test, mean, time.Duration(mean), time.Duration(timer.Percentile(0.95)), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, order []string, results map[string]metrics.Timer) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Count", "MeanNs", "P95Ns", "MaxNs", "OpsPerSec", "Skipped",
		"Adapter", "Threads", "Ops", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, test := range order {
		timer := results[test]

		skipped := timer.Count() == 0
		var opsPerSec float64
		if !skipped {
			opsPerSec = 1e9 / timer.Mean()
		}

		row := []string{
			test,
			strconv.FormatInt(timer.Count(), 10),
			fmt.Sprintf("%.0f", timer.Mean()),
			fmt.Sprintf("%.0f", timer.Percentile(0.95)),
			strconv.FormatInt(timer.Max(), 10),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(skipped),
			viper.GetString("adapter"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfNumOps),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
