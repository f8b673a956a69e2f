package mqtt

import (
	"errors"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const defaultTopicPrefix = "homeassistant"

// client is the subset of paho_mqtt.Client the service uses.
type client interface {
	Connect() paho_mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
	Disconnect(quiesce uint)
}

type service struct {
	client      client
	topicPrefix string
	timeout     time.Duration

	mu         sync.Mutex
	configured map[string]struct{}
	logger     *zap.Logger
}

func New(c client, topicPrefix string) *service {
	if topicPrefix == "" {
		topicPrefix = defaultTopicPrefix
	}
	return &service{
		client:      c,
		topicPrefix: topicPrefix,
		timeout:     5 * time.Second,
		configured:  make(map[string]struct{}),
		logger:      zap.L(),
	}
}

// NewClient builds a paho client for host with optional credentials.
func NewClient(host, username, password string) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(host).
		SetClientID("relay-bridge").
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	return paho_mqtt.NewClient(opts)
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(s.timeout)
	if err := token.Error(); err != nil {
		return err
	}
	if res {
		return nil
	}
	return errors.New("unable to connect in time")
}

func (s *service) Close() error {
	s.client.Disconnect(250)
	return nil
}
