// Package publish mirrors persisted readings to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/model"
	"rpiweatherd/internal/utils"
)

const (
	publishTimeout = 5 * time.Second
	// Epsilon is the smallest change that is published again.
	Epsilon = 0.05
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Options struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	// RepeatAfter republishes an unchanged reading once this much time
	// has passed.
	RepeatAfter time.Duration
}

type Publisher struct {
	client Client
	topic  string
	qos    byte
	cache  *utils.ValueCache
	log    logrus.FieldLogger
}

// Connect dials the broker and returns a publisher using it.
func Connect(opts Options, log logrus.FieldLogger) (*Publisher, error) {
	log = log.WithField("component", "mqtt")
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("connection lost: %v", err)
	})
	co.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("connected to %s", opts.Broker)
	})

	c := mqtt.NewClient(co)
	if token := c.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, token.Error())
	}
	return New(c, opts, log), nil
}

// New wraps an existing client.
func New(c Client, opts Options, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		client: c,
		topic:  opts.Topic,
		qos:    opts.QoS,
		cache:  utils.NewValueCache(opts.RepeatAfter),
		log:    log,
	}
}

// Publish sends e unless both measurements are unchanged since the last
// message. It reports whether a message was sent.
func (p *Publisher) Publish(e model.Entry) (bool, error) {
	tempChanged := p.cache.Changed("temperature", e.Temperature, Epsilon)
	humidChanged := p.cache.Changed("humidity", e.Humidity, Epsilon)
	if !tempChanged && !humidChanged {
		return false, nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal entry: %w", err)
	}
	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return false, fmt.Errorf("publish to %s: timed out", p.topic)
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.log.Debugf("published entry %d to %s", e.ID, p.topic)
	return true, nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
