// Package listener accepts query connections and serves them from a fixed
// pool of workers.
package listener

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/dispatch"
	"rpiweatherd/internal/metrics"
	"rpiweatherd/internal/mq"
	"rpiweatherd/internal/protocol"
)

const (
	// MaxWorkers caps the worker pool.
	MaxWorkers = 4
	// QueueSize is the number of messages that may wait for a worker.
	QueueSize = 512

	defaultReadTimeout  = 2 * time.Second
	defaultWriteTimeout = 2 * time.Second
	submitTimeout       = 5 * time.Second
)

// Dispatcher fills a message from a parsed request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *protocol.Request, m *mq.Message) dispatch.Status
}

// Storage accepts messages that need the database.
type Storage interface {
	Submit(ctx context.Context, m *mq.Message) error
}

type Options struct {
	Workers     int
	ReadTimeout time.Duration
	Dispatcher  Dispatcher
	Storage     Storage
	Logger      logrus.FieldLogger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Server owns the listening socket and the worker pool. Fresh
// connections and finished storage work share one queue; workers tell
// them apart by the Completed flag.
type Server struct {
	listener net.Listener
	queue    chan *mq.Message

	workers     int
	readTimeout time.Duration
	dispatcher  Dispatcher
	storage     Storage
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
	now         func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	quit      chan struct{}
	closeOnce sync.Once
	acceptWG  sync.WaitGroup
	workerWG  sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Workers > MaxWorkers {
		opts.Workers = MaxWorkers
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		queue:       make(chan *mq.Message, QueueSize),
		workers:     opts.Workers,
		readTimeout: opts.ReadTimeout,
		dispatcher:  opts.Dispatcher,
		storage:     opts.Storage,
		log:         opts.Logger.WithField("component", "listener"),
		metrics:     opts.Metrics,
		now:         opts.Now,
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan struct{}),
	}
}

// Listen binds address and starts the workers and the accept loop.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l

	for i := 0; i < s.workers; i++ {
		s.workerWG.Add(1)
		go s.work()
	}
	s.acceptWG.Add(1)
	go s.acceptLoop()
	s.log.Infof("listening on %s with %d workers", l.Addr(), s.workers)
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Close stops accepting, closes the connections still queued and waits
// for the workers. Replies the storage worker sends afterwards stay queued
// until DropPending.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.acceptWG.Wait()
		s.cancel()
		s.workerWG.Wait()
	})
	return err
}

func (s *Server) acceptLoop() {
	defer s.acceptWG.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnf("accept: %v", err)
			continue
		}
		s.metrics.Connections.Inc()

		select {
		case s.queue <- &mq.Message{Conn: conn}:
		case <-s.quit:
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) work() {
	defer s.workerWG.Done()
	for {
		select {
		case <-s.quit:
			s.DropPending()
			return
		case m := <-s.queue:
			s.handle(m)
		}
	}
}

// DropPending closes the connection of every queued message.
func (s *Server) DropPending() {
	for {
		select {
		case m := <-s.queue:
			s.finish(m)
		default:
			return
		}
	}
}

func (s *Server) handle(m *mq.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("panic serving %s request: %v", m.Kind, r)
			if m.Conn != nil {
				s.finish(m)
			}
		}
	}()
	if m.Completed {
		s.respond(m)
		return
	}
	s.serve(m)
}

func (s *Server) serve(m *mq.Message) {
	// The receive timeout starts once a worker owns the connection.
	_ = m.Conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	buf, readErr := protocol.ReadRequest(m.Conn)
	if len(buf) == 0 {
		if readErr != nil {
			s.log.Debugf("read from %s: %v", m.Conn.RemoteAddr(), readErr)
		}
		s.finish(m)
		return
	}
	req, err := protocol.Parse(buf)
	if err != nil {
		code := protocol.CodeOf(err)
		s.metrics.Requests.WithLabelValues("invalid", "error").Inc()
		s.write(m, protocol.RenderError(http.StatusBadRequest, int(code), code.Error(), s.now()))
		return
	}
	if dispatch.IsNoop(req.Command) {
		s.write(m, protocol.Render(http.StatusNoContent, nil, s.now()))
		return
	}

	if st := s.dispatcher.Dispatch(s.ctx, req, m); st != dispatch.Success {
		s.log.Debugf("%s from %s: %v", req.Command, m.Conn.RemoteAddr(), st)
		s.metrics.Requests.WithLabelValues(req.Command, "error").Inc()
		s.write(m, protocol.RenderError(http.StatusBadRequest, int(st), st.Message(), s.now()))
		return
	}
	if m.Completed {
		s.respond(m)
		return
	}

	m.ReplyTo = s.queue
	ctx, cancel := context.WithTimeout(s.ctx, submitTimeout)
	defer cancel()
	if err := s.storage.Submit(ctx, m); err != nil {
		s.log.Errorf("submit %s: %v", m.Kind, err)
		s.metrics.Requests.WithLabelValues(m.Kind.String(), "error").Inc()
		s.write(m, protocol.RenderError(http.StatusInternalServerError,
			int(mq.ResultSQLError), mq.ResultSQLError.Message(), s.now()))
	}
}

// respond serializes a completed message and closes its connection.
func (s *Server) respond(m *mq.Message) {
	if m.Result != mq.ResultOK {
		status := http.StatusInternalServerError
		if m.Result == mq.ResultTooManyEntries {
			status = http.StatusBadRequest
		}
		s.metrics.Requests.WithLabelValues(m.Kind.String(), "error").Inc()
		s.write(m, protocol.RenderError(status, int(m.Result), m.Result.Message(), s.now()))
		return
	}

	var body any
	switch m.Kind {
	case mq.KindFetch:
		if l, ok := m.EntryList(); ok {
			body = protocol.NewEntryListBody(l, m.Units)
		}
	case mq.KindCurrent:
		if e, ok := m.Entry(); ok {
			body = protocol.NewEntryBody(e, m.Units)
		}
	case mq.KindStatistics, mq.KindConfig:
		if l, ok := m.KeyValues(); ok {
			body = protocol.NewKeyValueBody(l)
		}
	}
	if body == nil {
		s.log.Errorf("%s reply without payload", m.Kind)
		s.metrics.Requests.WithLabelValues(m.Kind.String(), "error").Inc()
		s.write(m, protocol.RenderError(http.StatusInternalServerError,
			int(mq.ResultNoMemory), mq.ResultNoMemory.Message(), s.now()))
		return
	}
	out, err := protocol.RenderJSON(http.StatusOK, body, s.now())
	if err != nil {
		s.log.Errorf("render %s: %v", m.Kind, err)
		out = protocol.RenderError(http.StatusInternalServerError,
			int(mq.ResultNoMemory), mq.ResultNoMemory.Message(), s.now())
	}
	s.metrics.Requests.WithLabelValues(m.Kind.String(), "ok").Inc()
	s.write(m, out)
}

func (s *Server) write(m *mq.Message, out []byte) {
	_ = m.Conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if _, err := m.Conn.Write(out); err != nil {
		s.log.Debugf("write to %s: %v", m.Conn.RemoteAddr(), err)
	}
	s.finish(m)
}

func (s *Server) finish(m *mq.Message) {
	_ = m.Conn.Close()
	m.Release()
}
