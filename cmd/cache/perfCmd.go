package cache

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for dCache servers",
		Long: `Runs a set of benchmarks against a shard. The indexed benchmarks write entries of the
type given by --type with an int attribute Salary, start the server with a matching schema
(e.g. --types 'Employee(Name:string,Salary:int)') or with --index-all.`,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__perf"
	perfTypeName   = "Employee"
	perfNumThreads = 10
	perfKeySpread  = 100
	perfQueries    = 10
	perfSkip       = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "queries"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How many continuous queries to register for the insert-cq test"))
	key = "type"
	perfTestCmd.Flags().String(key, "Employee", util.WrapString("Type name of the indexed test entries"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfQueries = viper.GetInt("queries")
	perfTypeName = viper.GetString("type")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark describes one test of the perf command
type benchmark struct {
	name string
	// setup prepares the keys and returns a cleanup function
	setup func(keys []string) func()
	op    func(key string, counter int) error
}

func perfMeta(counter int) *index.MetaInfo {
	return &index.MetaInfo{
		TypeName:   perfTypeName,
		Attributes: map[string]any{"Salary": counter % 100000},
	}
}

func fillKeys(keys []string) func() {
	for i, k := range keys {
		if err := rpcStore.Insert(k, []byte("test"), perfMeta(i*1000)); err != nil {
			log.Printf("error setting key %s: %v\n", k, err)
		}
	}
	return func() { removeKeys(keys) }
}

func removeKeys(keys []string) {
	for _, k := range keys {
		if _, err := rpcStore.Remove(k); err != nil {
			log.Printf("error deleting key %s: %v\n", k, err)
		}
	}
}

func benchmarks() []benchmark {
	return []benchmark{
		{
			name:  "insert",
			setup: func(keys []string) func() { return func() { removeKeys(keys) } },
			op: func(key string, _ int) error {
				return rpcStore.Insert(key, []byte("test"), nil)
			},
		},
		{
			name:  "insert-indexed",
			setup: func(keys []string) func() { return func() { removeKeys(keys) } },
			op: func(key string, counter int) error {
				return rpcStore.Insert(key, []byte("test"), perfMeta(counter))
			},
		},
		{
			name: "insert-cq",
			setup: func(keys []string) func() {
				clientID := "perf-" + uuid.NewString()
				for i := 0; i < perfQueries; i++ {
					_, _, err := rpcStore.RegisterQuery(cache.RegisterRequest{
						ClientID: clientID,
						TypeName: perfTypeName,
						Query:    predicate.Spec{Op: "gt", Attr: "Salary", Value: i * 10000},
					})
					if err != nil {
						log.Printf("error registering query: %v\n", err)
					}
				}
				return func() {
					removeKeys(keys)
					if err := rpcStore.DisconnectClient(clientID); err != nil {
						log.Printf("error disconnecting client: %v\n", err)
					}
				}
			},
			op: func(key string, counter int) error {
				return rpcStore.Insert(key, []byte("test"), perfMeta(counter*7919))
			},
		},
		{
			name:  "get",
			setup: fillKeys,
			op: func(key string, _ int) error {
				_, _, err := rpcStore.Get(key)
				return err
			},
		},
		{
			name:  "has",
			setup: fillKeys,
			op: func(key string, _ int) error {
				_, err := rpcStore.Has(key)
				return err
			},
		},
		{
			name:  "search",
			setup: fillKeys,
			op: func(_ string, counter int) error {
				_, err := rpcStore.Search(perfTypeName, predicate.Spec{
					Op:    "gt",
					Attr:  "Salary",
					Value: (counter % perfKeySpread) * 1000,
				}, nil)
				return err
			},
		},
		{
			name:  "mixed",
			setup: fillKeys,
			op: func(key string, counter int) error {
				var err error
				switch counter % 4 {
				case 0:
					err = rpcStore.Insert(key, []byte("test"), perfMeta(counter))
				case 1:
					_, _, err = rpcStore.Get(key)
				case 2:
					_, err = rpcStore.Remove(key)
				case 3:
					_, err = rpcStore.Search(perfTypeName, predicate.Spec{Op: "gt", Attr: "Salary", Value: 50000}, nil)
				}
				return err
			},
		},
	}
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dCache servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)

	for _, bm := range benchmarks() {
		if shouldSkip(bm.name) {
			printResult(bm.name, testing.BenchmarkResult{})
			continue
		}
		result := testing.Benchmark(func(b *testing.B) {
			keys := getKeys(bm.name)
			b.Cleanup(bm.setup(keys))

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := bm.op(keys[counter%len(keys)], counter); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					counter++
				}
			})
		})
		results[bm.name] = result
		printResult(bm.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
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
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "Keys", "Queries",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)
		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfQueries),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
