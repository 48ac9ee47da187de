// Command raikkonen-harness is a small demo host process: it registers
// a handful of states, spins up goroutines that repeatedly enter them,
// and listens for a controller to drive the schedule that decides what
// happens at each entry.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ehrlich-b/raikkonen"
	"github.com/ehrlich-b/raikkonen/internal/rklog"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:9494", "address to listen for a controller connection on")
		verbose   = flag.Bool("v", false, "verbose output")
		nWorkers  = flag.Int("workers", 4, "number of worker goroutines entering states")
		nRounds   = flag.Int("rounds", 100, "number of times each worker enters its state")
	)
	flag.Parse()

	logConfig := rklog.DefaultConfig()
	if *verbose {
		logConfig.Level = rklog.LevelDebug
	}
	logger := rklog.NewLogger(logConfig)
	rklog.SetDefault(logger)

	readID := raikkonen.RegisterState("worker.read")
	writeID := raikkonen.RegisterState("worker.write")
	commitID := raikkonen.RegisterState("worker.commit")

	raikkonen.RegisterCallback(func(stateID uint32, arg any) {
		logger.Info("callback fired", "state_id", stateID)
	})

	logger.Info("listening for controller", "addr", *addr)
	fmt.Printf("raikkonen-harness listening on %s\n", *addr)
	fmt.Printf("send a schedule to drive %d worker(s) through read/write/commit\n", *nWorkers)

	if err := raikkonen.Start(*addr); err != nil {
		logger.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}
	logger.Info("controller negotiated, schedule installed")

	var wg sync.WaitGroup
	for w := 0; w < *nWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for r := 0; r < *nRounds; r++ {
				enter(logger, worker, readID, "read")
				enter(logger, worker, writeID, "write")
				enter(logger, worker, commitID, "commit")
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		logger.Info("all workers finished")
	case <-sigCh:
		logger.Info("received shutdown signal")
	}
}

func enter(logger *rklog.Logger, worker int, stateID uint32, name string) {
	ordinal, err := raikkonen.EnterState(stateID)
	if err != nil {
		logger.Warn("enter_state failed", "worker", worker, "state", name, "err", err)
		return
	}
	logger.Debug("entered state", "worker", worker, "state", name, "ordinal", ordinal)
}
