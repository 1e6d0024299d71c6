// Package daemon wires the sampling loop, the query services and the
// trigger engine together and handles reloads.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/config"
	"rpiweatherd/internal/db"
	"rpiweatherd/internal/device"
	"rpiweatherd/internal/dispatch"
	"rpiweatherd/internal/gpio"
	"rpiweatherd/internal/listener"
	"rpiweatherd/internal/logging"
	"rpiweatherd/internal/metrics"
	"rpiweatherd/internal/model"
	"rpiweatherd/internal/protocol"
	"rpiweatherd/internal/publish"
	"rpiweatherd/internal/storage"
	"rpiweatherd/internal/sysinfo"
	"rpiweatherd/internal/trigger"
)

const writeTimeout = 5 * time.Second

// Options carries process-level inputs that are not part of the
// configuration file.
type Options struct {
	// ConfigPath is re-read on every reload.
	ConfigPath string
	// TriggerFile overrides the configured rule file when set.
	TriggerFile string
	Logger      *logrus.Logger
	Registry    *prometheus.Registry
	// Pins and Runner default to the hardware GPIO driver and the
	// sandboxed runner.
	Pins   gpio.Driver
	Runner trigger.Runner
	Host   sysinfo.Provider
}

// Daemon owns everything that lives for the whole process. Services are
// rebuilt on reload.
type Daemon struct {
	opts    Options
	store   *config.Store
	gate    *device.Gate
	engine  *trigger.Engine
	pins    gpio.Driver
	log     *logrus.Logger
	metrics *metrics.Metrics
	started time.Time

	publisher *publish.Publisher

	svcMu sync.Mutex
	svc   *services
}

type services struct {
	db       *db.DB
	storage  *storage.Worker
	listener *listener.Server
}

// New opens the device and loads the trigger rules for cfg.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	d := &Daemon{
		opts:    opts,
		store:   config.NewStore(cfg),
		log:     opts.Logger,
		metrics: metrics.New(opts.Registry),
		started: time.Now(),
	}

	dev, err := openDevice(cfg)
	if err != nil {
		return nil, err
	}
	d.gate = device.NewGate(dev, d.log)
	d.gate.OnFailure = func(device.Status) { d.metrics.DeviceFailures.Inc() }
	if !d.gate.Test() {
		d.gate.Swap(nil)
		return nil, fmt.Errorf("device %s failed its self test", cfg.DeviceName)
	}

	d.pins = opts.Pins
	if d.pins == nil {
		d.pins, err = gpio.Open()
		if err != nil {
			d.log.Warnf("gpio unavailable, pin triggers will fail: %v", err)
		}
	}
	d.engine = trigger.NewEngine(d.triggerFile(cfg), d.pins, d.runner(cfg), d.log, d.metrics)
	if err := d.engine.Load(); err != nil {
		d.log.Warnf("load triggers: %v", err)
	}
	d.connectPublisher(cfg)
	return d, nil
}

func openDevice(cfg *config.Config) (device.SensorDevice, error) {
	dev, err := device.Open(cfg.DeviceName, device.Settings{
		Config:  cfg.DeviceConfig,
		Address: cfg.ModbusAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", cfg.DeviceName, err)
	}
	return dev, nil
}

func (d *Daemon) triggerFile(cfg *config.Config) string {
	if d.opts.TriggerFile != "" {
		return d.opts.TriggerFile
	}
	return cfg.TriggerFile
}

func (d *Daemon) runner(cfg *config.Config) trigger.Runner {
	if d.opts.Runner != nil {
		return d.opts.Runner
	}
	return trigger.SandboxRunner{
		User:    cfg.TriggerUser,
		CPUSoft: uint64(cfg.CPUSoftLimit),
		CPUHard: uint64(cfg.CPUHardLimit),
	}
}

func (d *Daemon) connectPublisher(cfg *config.Config) {
	if d.publisher != nil {
		d.publisher.Close()
		d.publisher = nil
	}
	if cfg.MQTT.Broker == "" {
		return
	}
	p, err := publish.Connect(publish.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Topic:       cfg.MQTT.Topic,
		QoS:         byte(cfg.MQTT.QoS),
		RepeatAfter: time.Hour,
	}, d.log)
	if err != nil {
		d.log.Errorf("mqtt: %v", err)
		return
	}
	d.publisher = p
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config { return d.store.Get() }

// Addr returns the bound query listener address while services run.
func (d *Daemon) Addr() string {
	svc := d.services()
	if svc == nil {
		return ""
	}
	return svc.listener.Addr().String()
}

func (d *Daemon) services() *services {
	d.svcMu.Lock()
	defer d.svcMu.Unlock()
	return d.svc
}

func (d *Daemon) startServices(cfg *config.Config) error {
	store, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	w := storage.New(store, storage.Options{Logger: d.log, Metrics: d.metrics})
	disp := dispatch.New(dispatch.Options{
		Config:    d.store,
		Gate:      d.gate,
		Host:      d.host(cfg),
		Version:   protocol.Version,
		StartedAt: d.started,
		Logger:    d.log,
	})
	l := listener.New(listener.Options{
		Workers:    cfg.Workers,
		Dispatcher: disp,
		Storage:    w,
		Logger:     d.log,
		Metrics:    d.metrics,
	})
	if err := l.Listen(cfg.ListenAddress()); err != nil {
		w.Close()
		_ = store.Close()
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress(), err)
	}
	d.svcMu.Lock()
	d.svc = &services{db: store, storage: w, listener: l}
	d.svcMu.Unlock()
	return nil
}

func (d *Daemon) host(cfg *config.Config) sysinfo.Provider {
	if d.opts.Host != nil {
		return d.opts.Host
	}
	return sysinfo.Host{DiskPath: filepath.Dir(cfg.Database)}
}

// stopServices shuts down the listener and its workers, then storage.
func (d *Daemon) stopServices() {
	d.svcMu.Lock()
	svc := d.svc
	d.svc = nil
	d.svcMu.Unlock()
	if svc == nil {
		return
	}
	if err := svc.listener.Close(); err != nil {
		d.log.Debugf("close listener: %v", err)
	}
	svc.storage.Close()
	svc.listener.DropPending()
	if err := svc.db.Close(); err != nil {
		d.log.Warnf("close database: %v", err)
	}
}

// Run samples the device every interval until ctx is done. A value on
// reload triggers a configuration reload between samples.
func (d *Daemon) Run(ctx context.Context, reload <-chan struct{}) error {
	if err := d.startServices(d.store.Get()); err != nil {
		return err
	}
	defer d.shutdown()

	if addr := d.store.Get().MetricsAddress; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, d.opts.Registry, d.log); err != nil {
				d.log.Errorf("metrics: %v", err)
			}
		}()
	}

	for {
		d.Sample(ctx)

		interval, _ := d.store.Get().Interval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-reload:
			timer.Stop()
			if err := d.Reload(); err != nil {
				return err
			}
		case <-timer.C:
		}
	}
}

func (d *Daemon) shutdown() {
	d.stopServices()
	if d.publisher != nil {
		d.publisher.Close()
	}
	d.gate.Swap(nil)
	if d.pins != nil {
		_ = d.pins.Close()
	}
	d.log.Info("stopped")
}

// Sample takes one reading, persists it, publishes it and runs the
// triggers against it.
func (d *Daemon) Sample(ctx context.Context) {
	cfg := d.store.Get()
	r, err := d.gate.Read(ctx, device.MaxQueryAttempts)
	if err != nil {
		d.log.Errorf("sample: %v", err)
		return
	}
	e := model.Entry{
		RecordDate:  time.Now().Format(model.TimeLayout),
		Temperature: r.Temperature(),
		Humidity:    r.Humidity(),
		Location:    cfg.Location,
		DeviceName:  cfg.DeviceName,
	}
	if svc := d.services(); svc != nil {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		if err := svc.storage.WriteEntry(wctx, e); err != nil {
			d.log.Errorf("queue entry: %v", err)
		}
		cancel()
	}
	if d.publisher != nil {
		if _, err := d.publisher.Publish(e); err != nil {
			d.log.Warnf("mqtt: %v", err)
		}
	}
	d.engine.Evaluate(ctx, r)
}

// Reload re-reads the configuration file. An invalid file leaves the
// running configuration untouched. An error is returned only when no
// query listener could be restarted.
func (d *Daemon) Reload() error {
	old := d.store.Get()
	cfg, err := config.Load(d.opts.ConfigPath)
	if err != nil {
		d.log.Errorf("reload: keeping current configuration: %v", err)
		return nil
	}
	for _, w := range cfg.Warnings {
		d.log.Warn(w)
	}
	logging.SetLevel(d.log, cfg.LogLevel)

	if cfg.DeviceName != old.DeviceName || cfg.DeviceConfig != old.DeviceConfig || cfg.ModbusAddress != old.ModbusAddress {
		dev, err := openDevice(cfg)
		if err != nil {
			d.log.Errorf("reload: keeping current configuration: %v", err)
			return nil
		}
		d.gate.Swap(dev)
		d.log.Infof("switched device to %s", cfg.DeviceName)
	}

	d.engine.SetRunner(d.runner(cfg))
	d.engine.SetPath(d.triggerFile(cfg))
	if err := d.engine.Load(); err != nil {
		d.log.Warnf("reload triggers: %v", err)
	}
	if cfg.MQTT != old.MQTT {
		d.connectPublisher(cfg)
	}

	d.stopServices()
	d.store.Replace(cfg)
	if err := d.startServices(cfg); err != nil {
		d.log.Errorf("restart services: %v; falling back to previous configuration", err)
		d.store.Replace(old)
		if err := d.startServices(old); err != nil {
			return fmt.Errorf("restart services: %w", err)
		}
	}
	d.log.Infof("configuration reloaded from %s", d.opts.ConfigPath)
	return nil
}
