// Command simclient drives a number of simulated walkers against a running
// route-share hub. Each walker joins, shares a random route and then walks it,
// sending a location update per step.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/route-share/backend/internal/logger"
)

var opts struct {
	URL       string
	Walkers   int
	Steps     int
	Interval  time.Duration
	Seed      uint64
	LogLevel  string
	LogFormat string
}

func main() {
	app := &cli.App{
		Name:  "simclient",
		Usage: "simulate walkers sharing their position and route",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "hub WebSocket URL",
				Value:       "ws://localhost:8080/ws",
				EnvVars:     []string{"SIM_URL"},
				Destination: &opts.URL,
			},
			&cli.IntFlag{
				Name:        "walkers",
				Usage:       "number of concurrent walkers",
				Value:       5,
				EnvVars:     []string{"SIM_WALKERS"},
				Destination: &opts.Walkers,
			},
			&cli.IntFlag{
				Name:        "steps",
				Usage:       "route length per walker",
				Value:       20,
				EnvVars:     []string{"SIM_STEPS"},
				Destination: &opts.Steps,
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "delay between location updates",
				Value:       time.Second,
				EnvVars:     []string{"SIM_INTERVAL"},
				Destination: &opts.Interval,
			},
			&cli.Float64SliceFlag{
				Name:  "center",
				Usage: "lat,lng the walkers start around",
				Value: cli.NewFloat64Slice(48.8566, 2.3522),
			},
			&cli.Uint64Flag{
				Name:        "seed",
				Usage:       "random seed, 0 for a time based seed",
				EnvVars:     []string{"SIM_SEED"},
				Destination: &opts.Seed,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				EnvVars:     []string{"LOG_LEVEL"},
				Destination: &opts.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Value:       "console",
				EnvVars:     []string{"LOG_FORMAT"},
				Destination: &opts.LogFormat,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log, err := logger.New(logger.Config{
		Level:   opts.LogLevel,
		Format:  opts.LogFormat,
		Service: "simclient",
	})
	if err != nil {
		return err
	}

	center := c.Float64Slice("center")
	if len(center) != 2 {
		return fmt.Errorf("center must be lat,lng, got %v", center)
	}
	if opts.Walkers < 1 || opts.Steps < 1 {
		return fmt.Errorf("walkers and steps must be >= 1")
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("url", opts.URL).Int("walkers", opts.Walkers).Uint64("seed", seed).Msg("starting simulation")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Walkers; i++ {
		w := Walker{
			Name:     fmt.Sprintf("walker-%d", i+1),
			URL:      opts.URL,
			Route:    RandomRoute(seed+uint64(i), center[0], center[1], opts.Steps),
			Interval: opts.Interval,
			Logger:   log.With().Str("walker", fmt.Sprintf("walker-%d", i+1)).Logger(),
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("simulation finished")
	return nil
}
