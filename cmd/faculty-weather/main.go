package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"faculty-weather/config"
	"faculty-weather/internal/api"
	"faculty-weather/internal/dashboard"
	"faculty-weather/internal/telemetry"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "faculty-weather",
		Short: "Weather dashboard with faculty telemetry",
		Long:  "Serve a weather dashboard for any coordinate next to live sensor readings from the university faculties",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(text.New(os.Stderr))
			if verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard service",
		Long:  "Start the telemetry generator, facility subscriptions and the web dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, err := config.LoadWithViper(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			source, closeSource := openSource(cfg)
			defer closeSource()

			gen := telemetry.NewGenerator(telemetry.GeneratorConfig{
				Store:    store,
				Source:   source,
				Interval: cfg.Telemetry.Interval,
				Enabled:  cfg.Telemetry.Enabled,
			})

			client := newWeatherClient(cfg)
			pipeline := dashboard.NewPipeline(dashboard.PipelineConfig{
				Source:  client,
				Store:   store,
				Timeout: cfg.Dashboard.RenderTimeout,
			})
			if err := pipeline.Start(ctx); err != nil {
				return fmt.Errorf("failed to subscribe to facilities: %w", err)
			}
			defer pipeline.Stop()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				if err := gen.Start(ctx); err != nil {
					log.WithError(err).Error("generator error")
				}
			}()

			if cfg.Dashboard.HasDefault() {
				coord := dashboard.Coordinate{Lat: cfg.Dashboard.DefaultLatitude, Lon: cfg.Dashboard.DefaultLongitude}
				go func() {
					if err := pipeline.Render(ctx, coord); err != nil && !errors.Is(err, dashboard.ErrSuperseded) {
						log.WithError(err).Warn("default render failed")
					}
				}()
			}

			var server *api.Server
			if cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:     cfg.API.Port,
					WebPath:  cfg.API.WebPath,
					Pipeline: pipeline,
					Geocoder: client,
					Store:    store,
					Latest:   gen,
					Config:   cfg,
					Viper:    v,
				})

				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.WithError(err).Error("api server error")
					}
				}()
			}

			log.Info("faculty weather started, press Ctrl+C to stop")

			<-sigChan
			log.Info("shutting down")
			cancel()
			gen.Stop()

			if server != nil {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := server.Stop(shutdownCtx); err != nil {
					log.WithError(err).Warn("api server shutdown")
				}
			}

			return nil
		},
	}
}

func renderCmd() *cobra.Command {
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the dashboard once",
		Long:  "Fetch weather for a coordinate and print the resulting dashboard as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			pipeline := dashboard.NewPipeline(dashboard.PipelineConfig{
				Source:  newWeatherClient(cfg),
				Timeout: cfg.Dashboard.RenderTimeout,
			})

			renderErr := pipeline.Render(cmd.Context(), dashboard.Coordinate{Lat: lat, Lon: lon})

			output, _ := json.MarshalIndent(pipeline.Page().Snapshot(), "", "  ")
			fmt.Println(string(output))

			return renderErr
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Look up places by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			places, err := newWeatherClient(cfg).Geocode(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if len(places) == 0 {
				fmt.Println("No results found.")
				return nil
			}

			for _, p := range places {
				name := p.Name
				if p.State != "" {
					name += ", " + p.State
				}
				fmt.Printf("%-36s %-3s %9.4f %9.4f\n", name, p.Country, p.Lat, p.Lon)
			}
			return nil
		},
	}
}

func simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run the telemetry generator only",
		Long:  "Write faculty readings to the configured store on every interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			source, closeSource := openSource(cfg)
			defer closeSource()

			// The generator logs each write at debug level.
			log.SetLevel(log.DebugLevel)

			gen := telemetry.NewGenerator(telemetry.GeneratorConfig{
				Store:    store,
				Source:   source,
				Interval: cfg.Telemetry.Interval,
				Enabled:  true,
			})
			return gen.Start(ctx)
		},
	}
}
