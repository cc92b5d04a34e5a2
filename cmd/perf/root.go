package perf

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dFrag/cmd/util"
	"github.com/ValentinKolb/dFrag/lib/codec"
	"github.com/ValentinKolb/dFrag/lib/config"
	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/ValentinKolb/dFrag/lib/store/mstore"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd benchmarks the configured codec
	PerfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for the configured codec",
		Long: `Benchmark encoding and decoding of one JSON message with the current
protocol version. Decoding uses an in-memory store unless --durable is set.`,
		Args:    cobra.NoArgs,
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfIdentityPrefix = "__perf"
	perfNumThreads     = 10
	perfIdentities     = 100
	perfDurable        = false
	perfSkip           = make([]string, 0)
)

func init() {
	// add flags
	key := "in"
	PerfCmd.Flags().String(key, "", util.WrapString("JSON file with the message to encode"))
	key = "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. encode,decode)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "identities"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many different sender identities to use for the tests"))
	key = "durable"
	PerfCmd.Flags().Bool(key, false, util.WrapString("Decode into the configured store instead of an in-memory store (the store is cleared afterwards)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfIdentities = max(viper.GetInt("identities"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfDurable = viper.GetBool("durable")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	conf, err := util.LoadConfig()
	if err != nil {
		return err
	}

	s := mstore.NewStore(store.Options{TTL: conf.TTL()})
	if perfDurable {
		if s, err = conf.OpenStore(); err != nil {
			return err
		}
	}
	defer s.Close()

	c, err := conf.NewCodec(conf.Current, s)
	if err != nil {
		return err
	}

	path := viper.GetString("in")
	if path == "" {
		return fmt.Errorf("no message given (use --in)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	msg, err := message.DecodeJSON(data, c.Body().Schema())
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for dFrag")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// prepare the fragments of every identity
	date := time.Now().UTC()
	messages, sizes, err := encodeAll(c, date, msg)
	if err != nil {
		return err
	}
	printSizes(sizes)
	fmt.Println()

	fmt.Println("staring tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)
	timer := metrics.NewTimer()

	encodeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("encode") {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if _, err := c.Encode(identity(counter), date, msg); err != nil {
					fmt.Fprintf(os.Stderr, "(encode) - error encoding message: %v\n", err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})

	results["encode"] = encodeResult
	printResult("encode", encodeResult, timer)

	timer = metrics.NewTimer()
	decodeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("decode") {
			return
		}

		// cleanup
		b.Cleanup(func() {
			if err := s.Clear(); err != nil {
				fmt.Fprintf(os.Stderr, "(decode) - error clearing store: %v\n", err)
			}
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		// one op decodes every fragment of one message
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				for _, f := range messages[counter%perfIdentities] {
					if _, err := c.DecodeFragment(f, identity(counter)); err != nil {
						fmt.Fprintf(os.Stderr, "(decode) - error decoding fragment: %v\n", err)
					}
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})

	results["decode"] = decodeResult
	printResult("decode", decodeResult, timer)

	timer = metrics.NewTimer()
	duplicateResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("duplicate") || len(messages[0]) < 2 {
			return
		}

		// store the first fragment of every message
		for i, fragments := range messages {
			if _, err := c.DecodeFragment(fragments[0], identity(i)); err != nil {
				fmt.Fprintf(os.Stderr, "(duplicate) - error decoding fragment: %v\n", err)
			}
		}

		// cleanup
		b.Cleanup(func() {
			if err := s.Clear(); err != nil {
				fmt.Fprintf(os.Stderr, "(duplicate) - error clearing store: %v\n", err)
			}
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if _, err := c.DecodeFragment(messages[counter%perfIdentities][0], identity(counter)); err != nil {
					fmt.Fprintf(os.Stderr, "(duplicate) - error decoding fragment: %v\n", err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})

	results["duplicate"] = duplicateResult
	printResult("duplicate", duplicateResult, timer)

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, conf, sizes); err != nil {
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

func identity(i int) string {
	return fmt.Sprintf("%s-%d", perfIdentityPrefix, i%perfIdentities)
}

// encodeAll encodes msg once per identity and records the fragment sizes
func encodeAll(c *codec.Codec, date time.Time, msg message.Node) ([][][]byte, metrics.Histogram, error) {
	sizes := metrics.NewHistogram(metrics.NewUniformSample(1028))
	messages := make([][][]byte, perfIdentities)
	for i := range messages {
		fragments, err := c.Encode(identity(i), date, msg)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range fragments {
			sizes.Update(int64(len(f)))
		}
		messages[i] = fragments
	}
	return messages, sizes, nil
}

func printSizes(sizes metrics.Histogram) {
	snap := sizes.Snapshot()
	fmt.Printf("Fragments: %d per message, %d to %d bytes (mean %.1f)\n",
		snap.Count()/int64(perfIdentities), snap.Min(), snap.Max(), snap.Mean())
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult, timer metrics.Timer) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	p := timer.Snapshot().Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, time.Duration(p[0]), time.Duration(p[1]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, conf *config.Config, sizes metrics.Histogram) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Tag", "MaxFragmentBytes", "Serializer", "Compression", "Backend",
		"Threads", "Identities", "FragmentsPerMessage",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	fragmentsPerMessage := sizes.Snapshot().Count() / int64(perfIdentities)
	backend := "memory"
	if perfDurable {
		backend = conf.Store.Backend
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.FormatUint(conf.Current.Tag, 10),
			strconv.Itoa(conf.Current.MaxFragmentBytes),
			conf.Current.Serializer,
			conf.Current.Compression,
			backend,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfIdentities),
			strconv.FormatInt(fragmentsPerMessage, 10),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
