package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/fsr_bridge_go/internal/bridge"
	"github.com/linjuya-lu/fsr_bridge_go/internal/config"
	"github.com/linjuya-lu/fsr_bridge_go/internal/mqtt"
	"github.com/linjuya-lu/fsr_bridge_go/internal/profile"
	"github.com/linjuya-lu/fsr_bridge_go/internal/registry"
	"github.com/linjuya-lu/fsr_bridge_go/internal/serial"
	"github.com/linjuya-lu/fsr_bridge_go/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName string = "fsr-bridge"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Bridge FSR pads on serial ports to WebSocket clients",
	Long: `fsr-bridge reads sensor values from one or more FSR pads over serial,
serves them to browser clients over WebSocket, and pushes threshold
profiles chosen by those clients back to the pads.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./res/configuration.yaml", "configuration file; empty for defaults")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR); overrides the configuration")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	lc := logger.NewClient(serviceName, strings.ToUpper(cfg.LogLevel))

	reg, err := registry.LoadFile(cfg.SensorsFile)
	if err != nil {
		return fmt.Errorf("load sensors: %w", err)
	}
	lc.Infof("Loaded %d sensors on %d ports from %s", reg.Len(), len(reg.Ports()), cfg.SensorsFile)

	profiles := profile.LoadFile(cfg.ProfilesFile, reg.Len(), lc)

	links := bridge.InitializeLinks(cfg, reg, serial.OpenUART, lc)
	defer func() {
		for _, l := range links {
			l.Close()
		}
	}()

	hub := bridge.NewHub(bridge.Options{
		Registry:        reg,
		Profiles:        profiles,
		ProfilesPath:    cfg.ProfilesFile,
		Links:           bridge.AsLinks(links),
		PollInterval:    cfg.PollInterval(),
		ClientQueueSize: cfg.ClientQueueSize,
		Logger:          lc,
	})

	ctx := cmd.Context()
	if cfg.Mqtt.Broker != "" {
		mc, err := mqtt.NewClient(mqtt.OptionsFromConfig(cfg.Mqtt), lc)
		if err != nil {
			return err
		}
		defer mc.Disconnect(250)
		hub.AddMirror(mc)
		err = mc.SubscribeCommands(func(payload []byte) {
			if err := hub.Receive(ctx, "mqtt", payload); err != nil {
				lc.Debugf("Dropping MQTT command: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}

	bridge.StartLinks(links, hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return web.NewServer(hub, cfg.StaticDir, lc).ListenAndServe(gctx, cfg.ListenAddr)
	})

	err = g.Wait()
	lc.Info("Shutting down")
	return err
}
