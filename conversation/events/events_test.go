package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx,
		Event{Type: TypeMessageAppended, ConversationID: "c1"},
		Event{Type: TypeStatusChanged, ConversationID: "c1"},
	))
	require.NoError(t, p.Publish(ctx, Event{Type: TypeMessageAppended, ConversationID: "c2"}))

	all := p.Events()
	require.Len(t, all, 3)
	assert.Equal(t, "c2", all[2].ConversationID)
	assert.Len(t, p.OfType(TypeMessageAppended), 2)

	all[0].ConversationID = "mutated"
	assert.Equal(t, "c1", p.Events()[0].ConversationID)
}

func TestKafkaPublisher_EmptyBatchIsNoop(t *testing.T) {
	p := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "conversation-events"})
	defer p.Close()
	assert.NoError(t, p.Publish(context.Background()))
}
