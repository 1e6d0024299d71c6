package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"rpiweatherd/internal/config"
	"rpiweatherd/internal/daemon"
	"rpiweatherd/internal/device"
	"rpiweatherd/internal/logging"
	"rpiweatherd/internal/protocol"
	"rpiweatherd/internal/trigger"
)

func main() {
	trigger.RunSandboxHelper()

	var (
		cfgPath     string
		genPath     string
		envPath     string
		triggerPath string
		listDevices bool
		showVersion bool
	)
	flag.StringVar(&cfgPath, "c", config.DefaultPath, "path to configuration file (INI, or YAML by extension)")
	flag.StringVar(&genPath, "g", "", "write a blank configuration file to this path and exit")
	flag.StringVar(&envPath, "env", "", "optional dotenv file with WEATHERD_* overrides")
	flag.StringVar(&triggerPath, "triggers", "", "override the trigger rule file")
	flag.BoolVar(&listDevices, "l", false, "list supported devices and exit")
	flag.BoolVar(&showVersion, "v", false, "print version and exit")
	flag.Parse()

	fmt.Printf("%s %s\n", protocol.ServerName, protocol.Version)
	switch {
	case showVersion:
		return
	case listDevices:
		fmt.Printf("supported devices: %s\n", strings.Join(device.Names(), ", "))
		return
	case genPath != "":
		if err := config.WriteTemplate(genPath); err != nil {
			log.Fatalf("generate config: %v", err)
		}
		fmt.Printf("blank configuration written to %s\n", genPath)
		return
	}

	if err := run(cfgPath, envPath, triggerPath); err != nil {
		log.Fatal(err)
	}
}

func run(cfgPath, envPath, triggerPath string) error {
	if envPath != "" {
		if err := config.LoadEnvFile(envPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	if err := daemon.WritePIDFile(cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := daemon.RemovePIDFile(cfg.PIDFile); err != nil {
			logger.Warnf("remove pid file: %v", err)
		}
	}()

	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath:  cfgPath,
		TriggerFile: triggerPath,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT/SIGTERM stop the daemon, SIGHUP reloads the configuration
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	reload := make(chan struct{}, 1)
	go func() {
		for s := range sigCh {
			if s == syscall.SIGHUP {
				select {
				case reload <- struct{}{}:
				default:
				}
				continue
			}
			logger.Infof("received signal: %v, shutting down...", s)
			cancel()
			return
		}
	}()

	logger.Infof("started with device %s, sampling every %s", cfg.DeviceName, cfg.QueryInterval)
	return d.Run(ctx, reload)
}
