package mqttclient

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Options configures the broker connection.
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// NewClientOptions builds paho options with auto reconnect and a persistent session, so the
// broker keeps sensor subscriptions across reconnects.
func NewClientOptions(opts Options, logger *zap.Logger) (*mqtt.ClientOptions, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	if opts.ClientID == "" {
		return nil, errors.New("mqtt: empty client id")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(false).
		SetResumeSubs(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(timeout).
		SetKeepAlive(30 * time.Second).
		SetOrderMatters(false)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", opts.BrokerURL))
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	clientOpts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("mqtt reconnecting", zap.String("broker", opts.BrokerURL))
	})
	return clientOpts, nil
}

// Connect dials the broker and waits up to the connect timeout for the first connection.
func Connect(opts Options, logger *zap.Logger) (mqtt.Client, error) {
	clientOpts, err := NewClientOptions(opts, logger)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(clientOpts.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect to %s timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", opts.BrokerURL, err)
	}
	return client, nil
}
