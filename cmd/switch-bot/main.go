// Command switch-bot drives a two-channel servo light switch from touch
// pads, an IR remote, MQTT and a paired remote peer.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/switch-bot/internal/config"
	"github.com/sweeney/switch-bot/internal/gpio"
	"github.com/sweeney/switch-bot/internal/ir"
	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/mqtt"
	"github.com/sweeney/switch-bot/internal/servo"
	"github.com/sweeney/switch-bot/internal/settings"
	"github.com/sweeney/switch-bot/internal/status"
	"github.com/sweeney/switch-bot/internal/touch"
)

var (
	configPath string

	mainCmd = &cobra.Command{
		Use:           "switch-bot",
		Short:         "Servo light switch daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE:  runDaemon,
	}
	calibrateCmd = &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate the touch pads, print the baselines and exit",
		RunE:  runCalibrate,
	}
)

func main() {
	mainCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file (built-in defaults when empty)")
	mainCmd.AddCommand(runCmd, calibrateCmd)

	if err := mainCmd.Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := settings.OpenBadger(settings.BadgerOptions{Dir: cfg.Settings.Dir})
	if err != nil {
		return err
	}
	defer st.Close()

	if err := cfg.ApplySettings(st); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	states, err := settings.LoadStates(st)
	if err != nil {
		return fmt.Errorf("load states: %w", err)
	}
	store := logic.NewStore(cfg.RearmIntervals(), states)

	driver := servo.NewRealDriver()
	defer driver.Close()
	for i, c := range cfg.Channels {
		if err := driver.Init(logic.Channel(i), c.ServoPin); err != nil {
			return fmt.Errorf("init servo %s: %w", c.Name, err)
		}
	}

	hw := hardware{settings: st, driver: driver}
	if cfg.Touch.Enabled {
		sensor, err := gpio.NewRealSensor(cfg.Touch.Chip, cfg.TouchPins(), cfg.Touch.MaxCount)
		if err != nil {
			return fmt.Errorf("init touch: %w", err)
		}
		defer sensor.Close()
		hw.sensor = sensor
	}
	if cfg.Remote.URL != "" {
		hw.transport = cfg.Transport()
	}
	if cfg.IR.Device != "" {
		src, err := ir.OpenLIRC(cfg.IR.Device)
		if err != nil {
			// The switch stays usable without its remote control.
			log.Errorf("open ir receiver: %v", err)
		} else {
			defer src.Close()
			hw.irSource = src
		}
	}

	d := newDaemon(cfg, store, hw, time.Now)

	if cfg.MQTT.Broker != "" {
		pub := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			Prefix:             cfg.TopicPrefix(),
			OnCommand:          d.handleCommand,
			OnConnectionChange: d.setMQTTConnected,
		})
		defer pub.Close()
		d.setPublisher(pub, pub)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	return d.run(context.Background(), sigCh, ticker.C)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sensor, err := gpio.NewRealSensor(cfg.Touch.Chip, cfg.TouchPins(), cfg.Touch.MaxCount)
	if err != nil {
		return fmt.Errorf("init touch: %w", err)
	}
	defer sensor.Close()

	p := touch.NewPoller(sensor, logic.NewStore(nil, nil), cfg.TouchPoller(), time.Now)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	baselines, err := p.Calibrate(ctx)
	if err != nil {
		return err
	}
	printBaselines(cmd.OutOrStdout(), baselines)
	return nil
}

func printBaselines(w io.Writer, b [logic.NumChannels]logic.Baseline) {
	for i, bl := range b {
		note := ""
		if bl.Degenerate {
			note = " (no variation)"
		}
		fmt.Fprintf(w, "%s: mean=%d threshold=%d samples=%d%s\n",
			logic.Channel(i), bl.Mean, bl.Threshold, bl.Samples, note)
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
