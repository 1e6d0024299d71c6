package device

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/model"
)

const (
	// MaxQueryAttempts is the retry ceiling for one reading.
	MaxQueryAttempts = 64
	// logEvery sets how often failed attempts are logged.
	logEvery = 5
)

// Gate serializes every hardware transaction on the active device.
type Gate struct {
	mu  sync.Mutex
	dev SensorDevice

	RetryDelay time.Duration
	OnFailure  func(Status)
	log        logrus.FieldLogger
}

func NewGate(dev SensorDevice, log logrus.FieldLogger) *Gate {
	return &Gate{dev: dev, RetryDelay: 100 * time.Millisecond, log: log.WithField("component", "device")}
}

// Name returns the active driver name.
func (g *Gate) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Name()
}

func (g *Gate) Test() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Test()
}

func (g *Gate) Query() (model.Reading, Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Query()
}

// Swap installs dev and closes the previous device if it can be closed.
func (g *Gate) Swap(dev SensorDevice) {
	g.mu.Lock()
	old := g.dev
	g.dev = dev
	g.mu.Unlock()
	if c, ok := old.(io.Closer); ok && old != dev {
		if err := c.Close(); err != nil {
			g.log.Warnf("close %s: %v", old.Name(), err)
		}
	}
}

// Read queries the device until it succeeds, a non-transient status is
// returned or attempts run out. The lock is released between attempts.
func (g *Gate) Read(ctx context.Context, attempts int) (model.Reading, error) {
	if attempts <= 0 {
		attempts = MaxQueryAttempts
	}
	var last Status
	for i := 1; i <= attempts; i++ {
		r, st := g.Query()
		if st == Success {
			return r, nil
		}
		last = st
		if g.OnFailure != nil {
			g.OnFailure(st)
		}
		if i == 1 || i%logEvery == 0 {
			g.log.Warnf("query attempt %d/%d failed: %v", i, attempts, st)
		}
		if !st.Transient() {
			return model.Reading{}, fmt.Errorf("query device: %w", st)
		}
		if i < attempts && g.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return model.Reading{}, ctx.Err()
			case <-time.After(g.RetryDelay):
			}
		}
	}
	return model.Reading{}, fmt.Errorf("query device: %d attempts failed: %w", attempts, last)
}
