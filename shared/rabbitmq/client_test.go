package rabbitmq

import (
	"context"
	"testing"

	"github.com/cuongbtq/predict-queue/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URI(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantVhost string
	}{
		{
			name:      "default vhost",
			config:    Config{Host: "mq", Port: 5672, User: "app", Password: "secret"},
			wantVhost: "/",
		},
		{
			name:      "named vhost",
			config:    Config{Host: "mq", Port: 5673, User: "app", Password: "p@ss", VHost: "predict"},
			wantVhost: "predict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := amqp.ParseURI(tt.config.URI())
			require.NoError(t, err)

			assert.Equal(t, tt.config.Host, uri.Host)
			assert.Equal(t, tt.config.Port, uri.Port)
			assert.Equal(t, tt.config.User, uri.Username)
			assert.Equal(t, tt.config.Password, uri.Password)
			assert.Equal(t, tt.wantVhost, uri.Vhost)
		})
	}
}

func TestConfig_PublishTarget(t *testing.T) {
	exchange, key := (&Config{QueueName: "jobs", RoutingKey: "ignored"}).publishTarget()
	assert.Equal(t, "", exchange)
	assert.Equal(t, "jobs", key)

	exchange, key = (&Config{QueueName: "jobs", ExchangeName: "predict", RoutingKey: "predict.job"}).publishTarget()
	assert.Equal(t, "predict", exchange)
	assert.Equal(t, "predict.job", key)
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{config: &Config{QueueName: "jobs"}, logger: logger.NewDiscard().Logger}

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(context.Background(), []byte("{}"), "application/json"), ErrNotConnected)

	_, err := c.Consume("tag", 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close())
}
