package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/db"
	"rpiweatherd/internal/metrics"
	"rpiweatherd/internal/model"
	"rpiweatherd/internal/mq"
)

const (
	// QueueSize is the capacity of the worker's inbound channel.
	QueueSize = 20
	// MaxFetchedEntries bounds the rows a single fetch may return.
	MaxFetchedEntries = 2048

	opTimeout    = 10 * time.Second
	replyTimeout = 2 * time.Second
)

// ErrStopped is returned by Submit once the worker has been stopped.
var ErrStopped = errors.New("storage worker stopped")

// Options tunes a Worker. Zero values pick the defaults.
type Options struct {
	QueueSize  int
	MaxEntries int
	Location   *time.Location
	Now        func() time.Time
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
}

// Worker is the only goroutine that touches the database. Messages are
// processed one at a time in arrival order.
type Worker struct {
	db         *db.DB
	q          chan *mq.Message
	maxEntries int
	loc        *time.Location
	now        func() time.Time
	log        logrus.FieldLogger
	metrics    *metrics.Metrics

	stop   chan struct{}
	closed chan struct{}
}

// New starts a worker serving store.
func New(store *db.DB, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = QueueSize
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = MaxFetchedEntries
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	w := &Worker{
		db:         store,
		q:          make(chan *mq.Message, opts.QueueSize),
		maxEntries: opts.MaxEntries,
		loc:        opts.Location,
		now:        opts.Now,
		log:        opts.Logger.WithField("component", "storage"),
		metrics:    opts.Metrics,
		stop:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit hands m to the worker, blocking while the queue is full.
func (w *Worker) Submit(ctx context.Context, m *mq.Message) error {
	select {
	case <-w.stop:
		return ErrStopped
	default:
	}
	select {
	case w.q <- m:
		return nil
	case <-w.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteEntry queues a reading for persistence.
func (w *Worker) WriteEntry(ctx context.Context, e model.Entry) error {
	return w.Submit(ctx, &mq.Message{Kind: mq.KindWriteEntry, Payload: &e})
}

// Close stops accepting work, processes what is already queued and waits
// for the loop to exit. Every submitter must have returned before Close.
func (w *Worker) Close() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.closed
}

func (w *Worker) run() {
	defer close(w.closed)
	for {
		select {
		case m := <-w.q:
			w.process(m)
		case <-w.stop:
			for {
				select {
				case m := <-w.q:
					w.process(m)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) process(m *mq.Message) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("panic handling %s: %v", m.Kind, r)
			m.Result = mq.ResultSQLError
			m.Completed = true
			w.reply(m)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch m.Kind {
	case mq.KindWriteEntry:
		m.Result = w.writeEntry(ctx, m)
	case mq.KindFetch:
		m.Result = w.fetch(ctx, m)
	case mq.KindStatistics, mq.KindConfig:
		m.Result = w.keyValues(ctx, m)
	default:
		w.log.Warnf("unexpected message kind %s", m.Kind)
		m.Result = mq.ResultSQLError
	}
	if m.Result != mq.ResultOK {
		w.metrics.StorageErrors.WithLabelValues(m.Kind.String()).Inc()
	}
	m.Completed = true
	w.reply(m)
}

func (w *Worker) writeEntry(ctx context.Context, m *mq.Message) mq.Result {
	e, ok := m.Entry()
	if !ok {
		w.log.Errorf("write-entry without entry payload")
		return mq.ResultNoMemory
	}
	row := &model.DataRow{
		RecordDate:  w.now().In(w.loc).Format(model.TimeLayout),
		Temperature: e.Temperature,
		Humidity:    e.Humidity,
		Location:    e.Location,
		DeviceName:  e.DeviceName,
	}
	if err := w.db.InsertEntry(ctx, row); err != nil {
		w.log.Errorf("insert entry: %v", err)
		return mq.ResultSQLError
	}
	e.ID = row.ID
	e.RecordDate = row.RecordDate
	w.metrics.EntriesWritten.Inc()
	if err := w.db.IncrementStat(ctx, db.TotalEntries); err != nil {
		w.log.Errorf("increment %s: %v", db.TotalEntries, err)
		return mq.ResultSQLError
	}
	return mq.ResultOK
}

func (w *Worker) fetch(ctx context.Context, m *mq.Message) mq.Result {
	n, err := w.db.Count(ctx, m.Query.Count, m.Query.Args...)
	if err != nil {
		w.log.Errorf("fetch count: %v", err)
		return mq.ResultSQLError
	}
	if n > int64(w.maxEntries) {
		w.log.Debugf("fetch of %d entries exceeds ceiling %d", n, w.maxEntries)
		return mq.ResultTooManyEntries
	}
	rows, err := w.db.SelectEntries(ctx, m.Query.Select, m.Query.Args...)
	if err != nil {
		w.log.Errorf("fetch select: %v", err)
		return mq.ResultSQLError
	}
	if len(rows) > w.maxEntries {
		return mq.ResultTooManyEntries
	}
	list := model.NewEntryList(len(rows))
	for i, r := range rows {
		e := r.Entry()
		if m.Units.Temp != model.NativeTempUnit {
			e.Temperature = model.ConvertTemperature(e.Temperature, m.Units.Temp)
		}
		list.Entries[i] = e
	}
	m.Payload = list
	return w.countRequest(ctx)
}

func (w *Worker) keyValues(ctx context.Context, m *mq.Message) mq.Result {
	rows, err := w.db.SelectStats(ctx, m.Query.Select, m.Query.Args...)
	if err != nil {
		w.log.Errorf("%s select: %v", m.Kind, err)
		return mq.ResultSQLError
	}
	list, ok := m.KeyValues()
	if !ok {
		list = model.NewKeyValueList(len(rows))
		m.Payload = list
	}
	for _, r := range rows {
		if err := list.Append(r.Name, fmt.Sprintf("%d", r.Value)); err != nil {
			w.log.Errorf("%s merge: %v", m.Kind, err)
			return mq.ResultNoMemory
		}
	}
	return w.countRequest(ctx)
}

func (w *Worker) countRequest(ctx context.Context) mq.Result {
	if err := w.db.IncrementStat(ctx, db.TotalRequests); err != nil {
		w.log.Errorf("increment %s: %v", db.TotalRequests, err)
		return mq.ResultSQLError
	}
	return mq.ResultOK
}

// reply returns a completed message to its sender. A message nobody
// collects in time has its connection closed here.
func (w *Worker) reply(m *mq.Message) {
	if m.ReplyTo == nil {
		return
	}
	t := time.NewTimer(replyTimeout)
	defer t.Stop()
	select {
	case m.ReplyTo <- m:
	case <-t.C:
		w.log.Warnf("no worker took the %s reply; dropping connection", m.Kind)
		if m.Conn != nil {
			_ = m.Conn.Close()
		}
		m.Release()
	}
}
