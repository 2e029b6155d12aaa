package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jihwankim/actormesh/pkg/alloc"
	"github.com/jihwankim/actormesh/pkg/channel"
	"github.com/jihwankim/actormesh/pkg/config"
	"github.com/jihwankim/actormesh/pkg/logging"
	"github.com/jihwankim/actormesh/pkg/ndshape"
	"github.com/jihwankim/actormesh/pkg/procmesh"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Allocate a proc mesh and stream its events",
	Long:  `Allocates a proc mesh over the given extent, spawns a demo actor mesh, and prints lifecycle events until interrupted.`,
	RunE:  runMesh,
}

func init() {
	runCmd.Flags().String("extent", "replica=4", "extent as label=size[,label=size,...]")
	runCmd.Flags().String("transport", "", "channel transport (local, sim; overrides config)")
	runCmd.Flags().String("actor-mesh", "demo", "name of the demo actor mesh to spawn")
}

func runMesh(cmd *cobra.Command, args []string) error {
	extentFlag, _ := cmd.Flags().GetString("extent")
	transportFlag, _ := cmd.Flags().GetString("transport")
	meshName, _ := cmd.Flags().GetString("actor-mesh")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if transportFlag != "" {
		cfg.Transport.Default = transportFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logLevel := logging.LogLevel(cfg.Framework.LogLevel)
	if verbose {
		logLevel = logging.LogLevelDebug
	}
	logger := logging.Setup(logging.Config{
		Level:  logLevel,
		Format: logging.LogFormat(cfg.Framework.LogFormat),
		Output: os.Stdout,
	})
	logger.Info().Str("version", version).Msg("mesh runner starting")

	extent, err := parseExtentFlag(extentFlag)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var allocator alloc.Allocator
	switch cfg.Transport.Default {
	case "sim":
		channel.StartSimNet(cfg.Transport.SimBaseLatency, cfg.Transport.SimJitter)
		allocator = alloc.SimAllocator{}
	default:
		allocator = &alloc.LocalAllocator{}
	}

	al, err := allocator.Allocate(ctx, alloc.AllocSpec{Extent: extent})
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}

	pm, err := procmesh.Allocate(ctx, al)
	if err != nil {
		return fmt.Errorf("proc mesh: %w", err)
	}
	logger.Info().Str("world", pm.WorldID().String()).Str("extent", extent.String()).
		Msg("proc mesh allocated")

	actors, err := pm.Spawn(ctx, procmesh.TestActorType, meshName, &procmesh.TestActorParams{Greeting: "ready"})
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	logger.Info().Str("mesh", actors.Name()).Int("ranks", extent.NumRanks()).
		Msg("actor mesh spawned")

	events := pm.Events()
	go func() {
		<-ctx.Done()
		_ = events.IntoAlloc().Stop(context.Background())
	}()

	// Drain on a background context so the stop events emitted during
	// shutdown are still observed; the stream closes once the alloc is
	// fully stopped.
	for {
		event, ok := events.Next(context.Background())
		if !ok {
			break
		}
		logger.Info().Msg(event.String())
	}
	logger.Info().Msg("event stream closed; mesh is down")
	return nil
}

// parseExtentFlag parses "label=size[,label=size,...]" into an extent; an
// empty string yields the unity extent.
func parseExtentFlag(s string) (ndshape.Extent, error) {
	if s == "" {
		return ndshape.Unity(), nil
	}
	var labels []string
	var sizes []int
	for _, part := range strings.Split(s, ",") {
		label, sizeStr, found := strings.Cut(part, "=")
		if !found || label == "" {
			return ndshape.Extent{}, fmt.Errorf("bad extent %q: want label=size", part)
		}
		var size int
		if _, err := fmt.Sscanf(sizeStr, "%d", &size); err != nil {
			return ndshape.Extent{}, fmt.Errorf("bad extent size %q: %w", sizeStr, err)
		}
		labels = append(labels, label)
		sizes = append(sizes, size)
	}
	return ndshape.NewExtent(labels, sizes)
}
