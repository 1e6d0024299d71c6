package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/device"
	"rpiweatherd/internal/logging"
	"rpiweatherd/internal/modbus"
	"rpiweatherd/internal/utils"
)

type sample struct {
	temperature float64
	humidity    float64
}

// source yields the next reading to expose.
type source func() (sample, error)

func main() {
	var (
		listen   string
		csvPath  string
		interval string
		seed     int64
		level    string
		port     string
		slave    uint
	)
	flag.StringVar(&listen, "listen", "127.0.0.1:1502", "Modbus TCP listen address")
	flag.StringVar(&csvPath, "csv", "", "replay temperature,humidity rows from this CSV file instead of a random walk")
	flag.StringVar(&interval, "interval", "5s", "time between register updates (e.g. 5s, 1m)")
	flag.Int64Var(&seed, "seed", 1, "random walk seed")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.StringVar(&port, "serial", "", "also answer RTU frames on this line (rtu:/dev/ttyS1?baud=9600)")
	flag.UintVar(&slave, "slave", 1, "RTU slave id, 0 answers any")
	flag.Parse()

	logger, _, _ := logging.New(level, "")
	if err := run(listen, csvPath, interval, seed, port, byte(slave), logger); err != nil {
		logger.Fatal(err)
	}
}

func run(listen, csvPath, interval string, seed int64, port string, slave byte, log logrus.FieldLogger) error {
	period, err := utils.ParseUnits(interval)
	if err != nil || period <= 0 {
		return fmt.Errorf("invalid update interval %q", interval)
	}

	next, err := newSource(csvPath, seed)
	if err != nil {
		return err
	}

	server := modbus.NewServer()
	if err := server.Listen(listen); err != nil {
		return fmt.Errorf("start modbus server: %w", err)
	}
	defer server.Close()
	log.Infof("sensor simulator listening on %s", server.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if port != "" {
		sp, err := utils.ParseSerialAddress(port)
		if err != nil {
			return err
		}
		line, err := modbus.OpenSerial(sp)
		if err != nil {
			return err
		}
		defer line.Close()
		log.Infof("answering RTU slave %d on %s", slave, sp.Address)
		go serveLine(ctx, server, line, slave, log)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		s, err := next()
		if err != nil {
			return err
		}
		if err := server.SetReading(s.temperature, s.humidity); err != nil {
			log.Warnf("set reading: %v", err)
		} else {
			log.Debugf("temperature %.1f humidity %.1f", s.temperature, s.humidity)
		}
		select {
		case <-ctx.Done():
			log.Info("shutting down simulator")
			return nil
		case <-ticker.C:
		}
	}
}

func serveLine(ctx context.Context, server *modbus.Server, line io.ReadWriter, slave byte, log logrus.FieldLogger) {
	for ctx.Err() == nil {
		err := server.ServeRTU(line, slave)
		if errors.Is(err, serial.ErrTimeout) {
			continue
		}
		if ctx.Err() == nil {
			log.Errorf("serial line: %v", err)
		}
		return
	}
}

func newSource(csvPath string, seed int64) (source, error) {
	if csvPath == "" {
		sim := device.NewSimulated(seed)
		return func() (sample, error) {
			r, st := sim.Query()
			if st != device.Success {
				return sample{}, st
			}
			return sample{r.Temperature(), r.Humidity()}, nil
		}, nil
	}
	rows, err := loadCSV(csvPath)
	if err != nil {
		return nil, fmt.Errorf("load csv: %w", err)
	}
	i := 0
	return func() (sample, error) {
		s := rows[i]
		i = (i + 1) % len(rows)
		return s, nil
	}, nil
}

// loadCSV reads a header row naming "temperature" and "humidity" columns
// followed by at least one data row.
func loadCSV(path string) ([]sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv must contain header and at least one data row")
	}

	tempCol, humidCol := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "temperature":
			tempCol = i
		case "humidity":
			humidCol = i
		}
	}
	if tempCol < 0 || humidCol < 0 {
		return nil, errors.New("csv header must name temperature and humidity columns")
	}

	rows := make([]sample, 0, len(records)-1)
	for n, record := range records[1:] {
		t, err := strconv.ParseFloat(strings.TrimSpace(record[tempCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid temperature: %w", n+2, err)
		}
		h, err := strconv.ParseFloat(strings.TrimSpace(record[humidCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid humidity: %w", n+2, err)
		}
		rows = append(rows, sample{t, h})
	}
	return rows, nil
}
