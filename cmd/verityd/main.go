// Command verityd runs a standalone Verity node: a CubeStore, its optional
// LevelDB-backed persistence, the annotation engine, and a SyncManager
// listening for and dialing out to peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/EliasOenal/verity-sub000/annotation"
	"github.com/EliasOenal/verity-sub000/config"
	"github.com/EliasOenal/verity-sub000/internal/metrics"
	"github.com/EliasOenal/verity-sub000/persistence"
	"github.com/EliasOenal/verity-sub000/store"
	"github.com/EliasOenal/verity-sub000/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "verityd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	listenAddr := flag.String("listen", ":1984", "address to accept incoming peer connections on")
	dataDir := flag.String("data", "./cubes.db", "Cubes DB directory (ignored with -in-memory)")
	inMemory := flag.Bool("in-memory", false, "use an in-memory store instead of the LevelDB-backed Cubes DB")
	noPersistence := flag.Bool("no-persistence", false, "disable durable persistence entirely")
	difficulty := flag.Uint("difficulty", 0, "minimum hashcash difficulty, in trailing zero bits, required to accept a cube")
	lightMode := flag.Bool("light", false, "run as a light node: never issue HASH_REQUEST, only fetch explicitly awaited cubes")
	peers := flag.String("peers", "", "comma-separated list of host:port addresses to dial on startup")
	flag.Parse()

	cfg := config.NewBuilder().
		SetDifficulty(uint32(*difficulty)).
		SetLightMode(*lightMode).
		SetPersistenceEnabled(!*noPersistence).
		SetInMemoryPersistence(*inMemory).
		Build()

	logger := log.NewLogger("verityd")
	reg := metrics.NewRegistry(prometheus.NewRegistry(), "verity")

	var persist store.Persistence
	if cfg.PersistenceEnabled {
		var adapter *persistence.Adapter
		if cfg.InMemoryPersistence {
			adapter = persistence.NewMemoryAdapter(persistence.WithLogger(logger))
		} else {
			adapter = persistence.NewFileAdapter(*dataDir, persistence.WithLogger(logger))
		}
		persist = adapter
	}

	st := store.New(cfg.Difficulty, persist, logger, reg)

	engine := annotation.NewEngine(st, logger, reg)
	st.SetIndexer(engine)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.Open(ctx); err != nil {
		return fmt.Errorf("opening cube store: %w", err)
	}

	manager := sync.NewManager(st, cfg, logger, reg)
	defer manager.Shutdown()

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", *listenAddr, err)
	}
	go func() {
		if err := manager.Serve(ctx, listener); err != nil {
			logger.Warn("listener stopped", "err", err)
		}
	}()

	for _, addr := range splitAddresses(*peers) {
		if _, err := manager.Connect(ctx, addr); err != nil {
			logger.Warn("initial dial failed", "addr", addr, "err", err)
		}
	}

	go logEvents(logger, manager)

	<-ctx.Done()
	return nil
}

func splitAddresses(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

func logEvents(logger log.Logger, manager *sync.Manager) {
	for ev := range manager.Events() {
		logger.Info("sync manager event", "kind", ev.Kind, "addr", ev.Addr)
	}
}
