package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rpiweatherd/internal/logging"
	"rpiweatherd/internal/model"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	sent         []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic, qos, payload.([]byte)})
	return &fakeToken{err: c.err}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestPublishSkipsUnchangedReadings(t *testing.T) {
	c := &fakeClient{}
	p := New(c, Options{Topic: "weather/attic", QoS: 1}, logging.Discard())

	e := model.Entry{ID: 1, Temperature: 21.5, Humidity: 40, Location: "attic"}
	if sent, err := p.Publish(e); err != nil || !sent {
		t.Fatalf("first Publish = %v, %v", sent, err)
	}
	e.ID = 2
	e.Temperature = 21.52
	if sent, _ := p.Publish(e); sent {
		t.Fatalf("change below epsilon should not be published")
	}
	e.ID = 3
	e.Humidity = 45
	if sent, _ := p.Publish(e); !sent {
		t.Fatalf("humidity change should be published")
	}

	if len(c.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(c.sent))
	}
	if c.sent[0].topic != "weather/attic" || c.sent[0].qos != 1 {
		t.Fatalf("unexpected message %+v", c.sent[0])
	}
	var got model.Entry
	if err := json.Unmarshal(c.sent[1].payload, &got); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if got.ID != 3 || got.Humidity != 45 {
		t.Fatalf("unexpected payload %+v", got)
	}

	p.Close()
	if !c.disconnected {
		t.Fatalf("Close should disconnect")
	}
}

func TestPublishError(t *testing.T) {
	c := &fakeClient{err: errors.New("broker down")}
	p := New(c, Options{Topic: "t"}, logging.Discard())
	if _, err := p.Publish(model.Entry{Temperature: 1}); err == nil {
		t.Fatalf("expected an error")
	}
}
