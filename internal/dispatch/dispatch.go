// Package dispatch turns parsed requests into storage work or immediate
// replies.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/config"
	"rpiweatherd/internal/db"
	"rpiweatherd/internal/device"
	"rpiweatherd/internal/model"
	"rpiweatherd/internal/mq"
	"rpiweatherd/internal/protocol"
	"rpiweatherd/internal/sysinfo"
)

// hostStats is the number of statistics filled in before the stored
// counters are merged.
const hostStats = 6

// Reader reads one sample from the sensor, retrying up to attempts times.
type Reader interface {
	Read(ctx context.Context, attempts int) (model.Reading, error)
}

// Options configures a Dispatcher. Config, Gate and Host are required.
type Options struct {
	Config      *config.Store
	Gate        Reader
	Host        sysinfo.Provider
	Version     string
	Location    *time.Location
	Now         func() time.Time
	StartedAt   time.Time
	MaxAttempts int
	Logger      logrus.FieldLogger
}

type handler func(ctx context.Context, req *protocol.Request, m *mq.Message) Status

// Dispatcher routes commands to their handlers.
type Dispatcher struct {
	cfg         *config.Store
	gate        Reader
	host        sysinfo.Provider
	version     string
	loc         *time.Location
	now         func() time.Time
	startedAt   time.Time
	maxAttempts int
	log         logrus.FieldLogger

	handlers map[string]handler
}

func New(opts Options) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = opts.Now()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = device.MaxQueryAttempts
	}
	if opts.Version == "" {
		opts.Version = protocol.Version
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	d := &Dispatcher{
		cfg:         opts.Config,
		gate:        opts.Gate,
		host:        opts.Host,
		version:     opts.Version,
		loc:         opts.Location,
		now:         opts.Now,
		startedAt:   opts.StartedAt,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger.WithField("component", "dispatch"),
	}
	d.handlers = map[string]handler{
		"fetch":      d.fetch,
		"current":    d.current,
		"statistics": d.statistics,
		"config":     d.config,
	}
	return d
}

// IsNoop reports commands browsers send on their own. They are answered
// with an empty 204.
func IsNoop(command string) bool {
	return command == "favicon.ico" || command == "text-html"
}

// Dispatch runs the handler for req.Command, filling m. On Success m is
// either Completed or carries the query the storage worker must run.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request, m *mq.Message) Status {
	if req.HasDuplicates() {
		return DuplicateParams
	}
	h, ok := d.handlers[req.Command]
	if !ok {
		return UnknownCommand
	}
	return h(ctx, req, m)
}

func (d *Dispatcher) units(temp string) model.Units {
	return model.Units{Temp: temp, Humid: model.HumidityUnit}
}

// tempUnit validates a tempunit value and returns it lowercased.
func tempUnit(p protocol.Param) (string, Status) {
	if !p.HasValue || len(p.Value) != 1 {
		return "", ParamError
	}
	u := strings.ToLower(p.Value)
	if u != "c" && u != "f" {
		return "", ParamError
	}
	return u, Success
}

type dateParam struct {
	set bool
	t   time.Time
}

func (d *Dispatcher) fetch(_ context.Context, req *protocol.Request, m *mq.Message) Status {
	if len(req.Params) == 0 {
		return ParamsMissing
	}
	now := d.now().In(d.loc)
	unit := d.cfg.Get().DefaultTempUnit
	var from, to, on dateParam
	selectN := 0

	for _, p := range req.Params {
		if !p.HasValue {
			return ParamError
		}
		switch p.Name {
		case "tempunit":
			u, st := tempUnit(p)
			if st != Success {
				return st
			}
			unit = u
		case "from", "to", "on":
			t, calendar, err := parseDate(p.Value, now, d.loc)
			if err != nil {
				d.log.Debugf("fetch %s: %v", p.Name, err)
				return ParamError
			}
			switch {
			case p.Name == "from" && calendar:
				t = dayStart(t)
			case p.Name == "to" && calendar:
				t = dayEnd(t)
			}
			dp := dateParam{set: true, t: t}
			switch p.Name {
			case "from":
				from = dp
			case "to":
				to = dp
			default:
				on = dp
			}
		case "select":
			n, err := strconv.Atoi(p.Value)
			if err != nil || n <= 0 {
				return ParamError
			}
			selectN = n
		default:
			return UnknownParam
		}
	}

	var where string
	var args []any
	switch {
	case selectN > 0 && !from.set && !to.set && !on.set:
		m.Query = selectLatest(selectN)
	case on.set && !from.set && !to.set && selectN == 0:
		where = db.DateColumn + " BETWEEN ? AND ?"
		args = []any{dateArg(dayStart(on.t)), dateArg(dayEnd(on.t))}
	case from.set && to.set && !on.set && selectN == 0:
		if from.t.After(to.t) {
			return ParamError
		}
		where = db.DateColumn + " BETWEEN ? AND ?"
		args = []any{dateArg(from.t), dateArg(to.t)}
	case from.set && !to.set && !on.set && selectN == 0:
		where = db.DateColumn + " >= ?"
		args = []any{dateArg(from.t)}
	case to.set && !from.set && !on.set && selectN == 0:
		where = db.DateColumn + " <= ?"
		args = []any{dateArg(to.t)}
	default:
		return ParamError
	}
	if where != "" {
		m.Query = mq.Query{
			Count:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", db.DataTable, where),
			Select: fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id", db.EntryColumns, db.DataTable, where),
			Args:   args,
		}
	}
	m.Kind = mq.KindFetch
	m.Units = d.units(unit)
	return Success
}

func selectLatest(n int) mq.Query {
	latest := fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT ?", db.EntryColumns, db.DataTable)
	return mq.Query{
		Count:  "SELECT COUNT(*) FROM (" + latest + ")",
		Select: fmt.Sprintf("SELECT %s FROM (%s) ORDER BY id", db.EntryColumns, latest),
		Args:   []any{n},
	}
}

func dateArg(t time.Time) string { return t.Format(model.TimeLayout) }

func (d *Dispatcher) current(ctx context.Context, req *protocol.Request, m *mq.Message) Status {
	cfg := d.cfg.Get()
	unit := cfg.DefaultTempUnit
	if len(req.Params) > 1 {
		return TooManyParams
	}
	if len(req.Params) == 1 {
		p := req.Params[0]
		if p.Name != "tempunit" {
			return UnknownParam
		}
		u, st := tempUnit(p)
		if st != Success {
			return st
		}
		unit = u
	}

	r, err := d.gate.Read(ctx, d.maxAttempts)
	if err != nil {
		d.log.Errorf("current reading: %v", err)
		return DeviceError
	}
	m.Kind = mq.KindCurrent
	m.Units = d.units(unit)
	m.Payload = &model.Entry{
		ID:          model.LiveEntryID,
		Temperature: model.ConvertTemperature(r.Temperature(), unit),
		Humidity:    r.Humidity(),
		Location:    cfg.Location,
		DeviceName:  cfg.DeviceName,
	}
	m.Completed = true
	return Success
}

func (d *Dispatcher) statistics(_ context.Context, req *protocol.Request, m *mq.Message) Status {
	if len(req.Params) > 0 {
		return NoParamsNeeded
	}
	facts, err := d.host.Facts()
	if err != nil {
		d.log.Warnf("host facts: %v", err)
	}
	list := model.NewKeyValueList(hostStats + len(db.Counters))
	pairs := []model.KeyValue{
		{Key: "hostname", Value: facts.Hostname},
		{Key: "version", Value: d.version},
		{Key: "uptime", Value: strconv.FormatInt(int64(facts.Uptime/time.Second), 10)},
		{Key: "daemon_uptime", Value: strconv.FormatInt(int64(d.now().Sub(d.startedAt)/time.Second), 10)},
		{Key: "freeram", Value: strconv.FormatUint(facts.FreeRAM, 10)},
		{Key: "freedisk", Value: strconv.FormatUint(facts.FreeDisk, 10)},
	}
	for _, kv := range pairs {
		if err := list.Append(kv.Key, kv.Value); err != nil {
			return MemoryError
		}
	}
	m.Kind = mq.KindStatistics
	m.Payload = list
	m.Query = mq.Query{
		Select: fmt.Sprintf("SELECT name, display_name, value FROM %s ORDER BY rowid", db.StatsTable),
	}
	return Success
}

// config ignores any parameters.
func (d *Dispatcher) config(_ context.Context, _ *protocol.Request, m *mq.Message) Status {
	cfg := d.cfg.Get()
	pairs := []model.KeyValue{
		{Key: "measure_location", Value: cfg.Location},
		{Key: "query_interval", Value: cfg.QueryInterval},
		{Key: "device_name", Value: cfg.DeviceName},
		{Key: "device_config", Value: strconv.Itoa(cfg.DeviceConfig)},
		{Key: "comm_port", Value: strconv.Itoa(cfg.Port)},
		{Key: "num_worker_threads", Value: strconv.Itoa(cfg.Workers)},
		{Key: "default_tempunit", Value: cfg.DefaultTempUnit},
	}
	list := model.NewKeyValueList(len(pairs))
	for _, kv := range pairs {
		if err := list.Append(kv.Key, kv.Value); err != nil {
			return MemoryError
		}
	}
	m.Kind = mq.KindConfig
	m.Payload = list
	m.Completed = true
	return Success
}
