package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/reconcile"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	return nil
}

func newTestProducer(w *fakeWriter) *Producer {
	p := NewProducerWithWriter(w, "links", ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	p.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return p
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducerPublish(t *testing.T) {
	t.Run("orders wipe, upserts, prunes then run", func(t *testing.T) {
		w := &fakeWriter{}
		p := newTestProducer(w)

		err := p.Publish(context.Background(), reconcile.Change{
			TenantID: "tenant",
			Wiped:    true,
			Upserted: []models.Link{models.NewLink("acc", "t1", models.StrategyDirectCaseID, 1.0)},
			Pruned:   []models.PairKey{{AccountID: "acc", TicketID: "t2"}},
			Report:   &models.RunReport{RunID: "run-1", TenantID: "tenant"},
		})
		require.NoError(t, err)
		require.Len(t, w.msgs, 4)

		types := make([]string, 0, len(w.msgs))
		for _, m := range w.msgs {
			types = append(types, header(m, "event_type"))
			assert.Equal(t, "links", m.Topic)
			assert.Equal(t, "tenant", header(m, "tenant_id"))
		}
		assert.Equal(t, []string{EventLinksWiped, EventLinkUpserted, EventLinkPruned, EventRunCompleted}, types)

		assert.Equal(t, "tenant:acc:t1", string(w.msgs[1].Key))
		var event LinkEvent
		require.NoError(t, json.Unmarshal(w.msgs[1].Value, &event))
		assert.Equal(t, models.StrategyDirectCaseID, event.Strategy)
		assert.Equal(t, 1.0, event.Confidence)

		assert.Equal(t, "tenant", string(w.msgs[3].Key))
	})

	t.Run("empty change writes nothing", func(t *testing.T) {
		w := &fakeWriter{}
		require.NoError(t, newTestProducer(w).Publish(context.Background(), reconcile.Change{TenantID: "tenant"}))
		assert.Empty(t, w.msgs)
	})

	t.Run("returns writer errors", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("leader not available")}
		err := newTestProducer(w).Publish(context.Background(), reconcile.Change{TenantID: "tenant", Wiped: true})
		assert.EqualError(t, err, "leader not available")
	})
}
