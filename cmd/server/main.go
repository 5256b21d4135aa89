// The rollsync reference server: runs the cubes simulation and gives every
// joining client one cube to drive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rollsync/rollsync/examples/cubes/sim"
	"github.com/rollsync/rollsync/internal/core/config"
	"github.com/rollsync/rollsync/internal/core/input"
	"github.com/rollsync/rollsync/internal/core/observability/log"
	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
	"github.com/rollsync/rollsync/internal/server"
)

var palette = []uint32{0xe74c3c, 0x3498db, 0x2ecc71, 0xf1c40f, 0x9b59b6}

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	lg := log.New(log.ParseLevel(cfg.LogLevel))

	registry, err := sim.BuildRegistry()
	if err != nil {
		lg.Fatal("build registry", zap.Error(err))
	}

	hub := server.NewHub(cfg, registry, lg)
	joined := 0
	hub.OnJoin(func(w *world.World, tick timeline.Tick, alloc *world.IDAllocator) world.EntityID {
		id := alloc.Next()
		e, err := w.Spawn(id, world.RoleAuthoritative, sim.Archetype, tick)
		if err != nil {
			lg.Error("spawn cube", zap.Error(err))
			return 0
		}
		for compID, v := range sim.SpawnValues(palette[joined%len(palette)]) {
			e.Set(compID, v)
		}
		joined++
		return id
	})
	hub.RegisterStep(func(tick timeline.Tick, w *world.World, inputs *input.Channel) {
		sim.Step(tick, w, inputs)
	})

	transport, err := protocol.ByName(cfg.Transport)
	if err != nil {
		lg.Fatal("select transport", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stopCh
		cancel()
	}()

	if err = hub.Start(ctx, transport); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}
