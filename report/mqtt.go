package report

import (
	"context"
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const mqttDisconnectQuiesceMs = 250

// MQTTPublisher emits frame events as JSON on a fixed topic at QoS 1.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to the broker and returns a publisher on topic.
func NewMQTTPublisher(brokerURL, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "mqtt connect")
	}
	return NewMQTTPublisherWithClient(client, topic), nil
}

// NewMQTTPublisherWithClient wraps an already connected client. The caller
// keeps ownership of connecting; Close still disconnects.
func NewMQTTPublisherWithClient(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

// PublishFrameEvent implements Publisher.
func (p *MQTTPublisher) PublishFrameEvent(ctx context.Context, event FrameEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal frame event")
	}
	token := p.client.Publish(p.topic, 1, false, payload)
	select {
	case <-token.Done():
		return errors.Wrap(token.Error(), "publish frame event")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Publisher.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(mqttDisconnectQuiesceMs)
}
