package main

// main.go is the priskv-server process entry point: it parses flags, builds
// a pkg/engine.Engine, and exposes it over a minimal HTTP surface for demos
// and smoke testing. The real wire protocol (§6) is out of scope; this is
// the same "flags in, HTTP handlers out" shape the teacher's examples use,
// generalized from a generic cache service to the KV engine.
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"` is set by GoReleaser.
// ---------------------------------------------------------------
// © 2025 PrisKV authors. Apache License 2.0.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DwyaneShi/priskv/pkg/engine"
	"github.com/DwyaneShi/priskv/pkg/protocol"
	"github.com/DwyaneShi/priskv/pkg/sgl"
)

var version = "dev"

type flags struct {
	listen         string
	arenaPath      string
	maxKeyLength   int
	maxKeys        int
	valueBlockSize int
	valueBlocks    int
	policy         string
	tiering        string
	ioThreads      int
	bgThreads      int
	aclRules       string
	printVersion   bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.listen, "listen", ":6060", "HTTP listen address")
	flag.StringVar(&f.arenaPath, "arena", "", "persistent arena path on hugetlbfs/tmpfs (empty: anonymous)")
	flag.IntVar(&f.maxKeyLength, "max-key-length", 64, "maximum key length in bytes")
	flag.IntVar(&f.maxKeys, "max-keys", 1<<16, "key slot count, must be a power of two")
	flag.IntVar(&f.valueBlockSize, "value-block-size", 4096, "value block size in bytes")
	flag.IntVar(&f.valueBlocks, "value-blocks", 1<<14, "value block count, must be a power of two")
	flag.StringVar(&f.policy, "policy", "lru", "eviction policy name")
	flag.StringVar(&f.tiering, "tiering", "", "backend chain origin address, e.g. localfs:/data/priskv")
	flag.IntVar(&f.ioThreads, "io-threads", 4, "IO thread count")
	flag.IntVar(&f.bgThreads, "bg-threads", 1, "background thread count")
	flag.StringVar(&f.aclRules, "acl", "", "comma-separated CIDR allow-list, empty means allow all")
	flag.BoolVar(&f.printVersion, "version", false, "print version and exit")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.printVersion {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	log, err := zap.NewProduction()
	if err != nil {
		fatal(err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()

	opts := []engine.Option{
		engine.WithArenaLayout(uint16(f.maxKeyLength), uint32(f.maxKeys), uint32(f.valueBlockSize), uint64(f.valueBlocks)),
		engine.WithPolicy(f.policy),
		engine.WithThreads(f.ioThreads, f.bgThreads),
		engine.WithMetrics(reg),
		engine.WithLogger(log),
	}
	if f.arenaPath != "" {
		opts = append(opts, engine.WithPersistentArena(f.arenaPath))
	}
	if f.tiering != "" {
		opts = append(opts, engine.WithTiering(f.tiering))
	}
	if f.aclRules != "" {
		opts = append(opts, engine.WithACLRules(splitRules(f.aclRules)...))
	}

	eng, err := engine.New(ctx, opts...)
	if err != nil {
		fatal(fmt.Errorf("engine init: %w", err))
	}
	defer eng.Close()

	srv := &http.Server{Addr: f.listen, Handler: newMux(eng, reg)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("priskv-server listening", zap.String("addr", f.listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal(err)
	}
}

func newMux(eng *engine.Engine, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/put", admitted(eng, func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		val := r.URL.Query().Get("val")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		var timeout time.Duration
		if ttl := r.URL.Query().Get("ttl"); ttl != "" {
			secs, err := strconv.Atoi(ttl)
			if err != nil {
				http.Error(w, "invalid ttl", http.StatusBadRequest)
				return
			}
			timeout = time.Duration(secs) * time.Second
		}
		status := eng.Set([]byte(key), sgl.NewBytes([]byte(val)), uint64(len(val)), timeout)
		writeStatus(w, status)
	}))

	mux.HandleFunc("/get", admitted(eng, func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		out := sgl.NewBytesWriter()
		_, status := eng.Get([]byte(key), out)
		if status != protocol.StatusOK {
			writeStatus(w, status)
			return
		}
		fmt.Fprintln(w, string(out.Bytes()))
	}))

	mux.HandleFunc("/del", admitted(eng, func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		writeStatus(w, eng.Del([]byte(key)))
	}))

	mux.HandleFunc("/debug/priskv/snapshot", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":            version,
			"resident_keys":      eng.ResidentKeys(),
			"inuse_value_blocks": eng.InuseValueBlocks(),
		})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

// admitted wraps h with the ACL check spec §8 E6 describes: a connection
// (here, a request) from an address the engine's ACL rejects never
// reaches the handler.
func admitted(eng *engine.Engine, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !eng.Admit(host) {
			http.Error(w, protocol.StatusError.String(), http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

func writeStatus(w http.ResponseWriter, status protocol.Status) {
	if status == protocol.StatusOK {
		fmt.Fprintln(w, "OK")
		return
	}
	code := http.StatusInternalServerError
	switch status {
	case protocol.StatusNotFound:
		code = http.StatusNotFound
	case protocol.StatusValueTooBig, protocol.StatusNoSpace:
		code = http.StatusInsufficientStorage
	case protocol.StatusTimeout:
		code = http.StatusGatewayTimeout
	}
	http.Error(w, status.String(), code)
}

func splitRules(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "priskv-server:", err)
	os.Exit(1)
}
