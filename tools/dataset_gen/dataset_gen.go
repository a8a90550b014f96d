package main

// dataset_gen.go is a tiny helper utility to generate deterministic
// key/value datasets for standalone load-testing of a priskv-server
// instance (outside `go test`). It emits tab-separated "key\tvalue" lines
// whose value sizes default to a typical arena value-block size, so a
// generated dataset exercises the buddy allocator's block-count rounding
// the same way a real workload would.
//
// Usage:
//   go run ./tools/dataset_gen -n 100000 -dist=zipf -seed=42 -value-size=4096 -out dataset.tsv
//
// Flags:
//   -n           number of keys to generate (default 100000)
//   -dist        distribution: "uniform" or "zipf" (default uniform)
//   -zipfs       Zipf s parameter (>1)  (default 1.2)
//   -zipfv       Zipf v parameter (>=1) (default 1.0)
//   -value-size  value length in bytes per key (default 4096)
//   -seed        RNG seed (default current time)
//   -out         output file (default stdout)
//
// © 2025 PrisKV authors. Apache License 2.0.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"
)

func main() {
	var (
		n         = flag.Int("n", 100_000, "number of keys to generate")
		dist      = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS     = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV     = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		valueSize = flag.Int("value-size", 4096, "value length in bytes per key")
		seedVal   = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath   = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	value := make([]byte, *valueSize)
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	for i := 0; i < *n; i++ {
		key := "k" + strconv.FormatUint(gen(), 36)
		for j := range value {
			value[j] = alphabet[rnd.Intn(len(alphabet))]
		}
		w.WriteString(key)
		w.WriteByte('\t')
		w.Write(value)
		w.WriteByte('\n')
	}
}
