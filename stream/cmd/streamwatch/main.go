// streamwatch renders one member's streaming token balance live in the
// terminal, counting up between pool snapshot refreshes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/flowdroplabs/flowdrop/stream/pkg/superfluid"
	"github.com/flowdroplabs/flowdrop/stream/pkg/view"
	"github.com/flowdroplabs/flowdrop/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	subgraphURLFlag := flag.String("subgraph-url", "", "pool subgraph endpoint (or set SUBGRAPH_URL env var)")
	poolIDFlag := flag.String("pool-id", "", "distribution pool address (or set POOL_ID env var)")
	memberFlag := flag.String("member", "", "member address to watch")
	refreshIntervalFlag := flag.Duration("refresh-interval", 10*time.Second, "pool snapshot refresh interval")
	redrawIntervalFlag := flag.Duration("redraw-interval", 100*time.Millisecond, "balance redraw interval")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("SUBGRAPH_URL"); env != "" && *subgraphURLFlag == "" {
		*subgraphURLFlag = env
	}
	if env := os.Getenv("POOL_ID"); env != "" && *poolIDFlag == "" {
		*poolIDFlag = env
	}

	if *subgraphURLFlag == "" {
		return fmt.Errorf("--subgraph-url is required")
	}
	if *poolIDFlag == "" {
		return fmt.Errorf("--pool-id is required")
	}
	if *memberFlag == "" {
		return fmt.Errorf("--member is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	v, err := view.NewView(view.ViewConfig{
		Logger:          log,
		Fetcher:         superfluid.NewSubgraphClient(*subgraphURLFlag, log),
		PoolID:          *poolIDFlag,
		Member:          *memberFlag,
		RefreshInterval: *refreshIntervalFlag,
		RedrawInterval:  *redrawIntervalFlag,
	})
	if err != nil {
		return err
	}

	updates := v.Subscribe()
	defer v.Unsubscribe(updates)
	v.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer waitCancel()
	if err := v.WaitReady(waitCtx); err != nil {
		return err
	}

	fmt.Printf("watching %s in pool %s\n", *memberFlag, *poolIDFlag)
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case u := <-updates:
			marker := ""
			if u.Stale {
				marker = " (stale)"
			}
			// Overwrite the line in place so the balance counts up.
			fmt.Printf("\r[%s] %s tokens%s        ", u.State, u.Balance, marker)
		}
	}
}
