//go:build integration

package tagmanager_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagconsent/internal/consent/models"
	"tagconsent/internal/platform/kafka"
	"tagconsent/internal/tagmanager"
	"tagconsent/pkg/testutil"
	"tagconsent/pkg/testutil/containers"
)

func TestKafkaRuntimeIntegration(t *testing.T) {
	broker := containers.GetManager().GetKafka(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	topic := "consent-updates-it"

	producer, err := kafka.New(kafka.Config{Brokers: broker.Brokers}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = producer.Close() })

	t.Run("probe creates the topic and readies the gate", func(t *testing.T) {
		gate := tagmanager.NewGate()
		probe := tagmanager.NewKafkaTopicProbe(producer.Client(), topic, tagmanager.WithTopicCreation(1, 1))
		watcher := tagmanager.NewWatcher(gate, probe, 200*time.Millisecond, logger)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- watcher.Run(runCtx) }()

		require.Eventually(t, gate.Ready, 30*time.Second, 100*time.Millisecond)
		cancel()
		require.NoError(t, <-done)
		assert.False(t, gate.Ready(), "teardown resets readiness")
	})

	t.Run("consent update is keyed by visitor", func(t *testing.T) {
		visitorID := testutil.TestVisitors.First
		runtime := tagmanager.NewKafkaRuntime(producer, topic)
		signal := models.DeriveSignal(testutil.PreferencesOf(models.CategoryAnalytics))
		require.NoError(t, runtime.UpdateConsent(ctx, visitorID, signal))

		record, err := broker.ReadOne(ctx, topic, visitorID, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, record)

		var event struct {
			VisitorID string            `json:"visitor_id"`
			Consent   map[string]string `json:"consent"`
		}
		require.NoError(t, json.Unmarshal(record.Value, &event))
		assert.Equal(t, visitorID, event.VisitorID)
		assert.Equal(t, "granted", event.Consent["analytics_storage"])
		assert.Equal(t, "denied", event.Consent["ad_storage"])
		assert.Len(t, event.Consent, 7)
	})
}
