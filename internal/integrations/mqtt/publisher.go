// Package mqtt publishes analysis results to an MQTT broker so external
// dashboards can follow image diagnoses live. The publisher is optional and
// only connects when enabled in the configuration.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"cropsight/config"
	"cropsight/internal/core/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Publisher sends completed analysis results to the configured topic
type Publisher struct {
	config config.MQTTConfig
	client mqtt.Client
}

// analysisEvent is the wire format of one published analysis result
type analysisEvent struct {
	ImageID      uint               `json:"image_id"`
	RequestID    uint               `json:"request_id"`
	Status       models.ImageStatus `json:"status"`
	DiseaseType  *string            `json:"disease_type,omitempty"`
	Confidence   *float64           `json:"confidence,omitempty"`
	AnomalyScore *float64           `json:"anomaly_score,omitempty"`
	IsDiseased   *bool              `json:"is_diseased,omitempty"`
	ProcessedAt  *time.Time         `json:"processed_at,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// NewPublisher creates a new publisher. Call Start before publishing.
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	return &Publisher{config: cfg}
}

// Start connects the publisher to the broker. When MQTT is disabled this is
// a no-op and publishing silently drops events.
func (p *Publisher) Start() error {
	if !p.config.Enabled {
		log.Info("MQTT publisher is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s:%d", p.config.Broker, p.config.Port)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	p.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT publisher connected successfully")
	return nil
}

// Stop disconnects the publisher from the broker
func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		log.Info("Disconnecting MQTT publisher...")
		p.client.Disconnect(250)
		log.Info("MQTT publisher disconnected")
	}
}

// IsConnected reports whether the publisher currently has a broker connection
func (p *Publisher) IsConnected() bool {
	return p.client != nil && p.client.IsConnected()
}

// PublishAnalysis publishes the terminal state of an analyzed image. Errors
// are logged, never returned; a broken broker must not affect the analysis
// pipeline.
func (p *Publisher) PublishAnalysis(image *models.RequestImage) {
	if !p.config.Enabled || !p.IsConnected() {
		return
	}

	event := analysisEvent{
		ImageID:      image.ID,
		RequestID:    image.RequestID,
		Status:       image.Status,
		DiseaseType:  image.DiseaseType,
		Confidence:   image.Confidence,
		AnomalyScore: image.AnomalyScore,
		IsDiseased:   image.IsDiseased,
		ProcessedAt:  image.ProcessedAt,
		Timestamp:    time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal MQTT analysis event: %v", err)
		return
	}

	topic := fmt.Sprintf("%s/requests/%d/images/%d", p.config.Topic, image.RequestID, image.ID)
	if token := p.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to publish analysis event to %s: %v", topic, token.Error())
	}
}
