package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/config"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type MQTTSink struct {
	client paho.Client
	topic  string
	qos    byte
}

func NewMQTTSink(cfg config.MQTTRelayConfig, log *logrus.Logger) (*MQTTSink, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(cfg.Topic+"/status", "offline", 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		log.Info("MQTT relay connected to broker")
		client.Publish(cfg.Topic+"/status", 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		log.Warnf("MQTT relay disconnected: %v", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return &MQTTSink{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

func (s *MQTTSink) Publish(ctx context.Context, payload []byte) error {
	token := s.client.Publish(s.topic, s.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Publish(s.topic+"/status", 1, true, "offline").WaitTimeout(time.Second)
		s.client.Disconnect(250)
	}
	return nil
}
