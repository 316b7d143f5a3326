package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsByChannelRecipient(t *testing.T) {
	sink := &recordingSink{}
	relay := NewRelay(nil, sink, nil)
	recipient := uuid.New()

	relay.forward(&redis.Message{Channel: Channel(recipient), Payload: `{"title":"Order update"}`})
	relay.forward(&redis.Message{Channel: channelPrefix + "not-a-uuid", Payload: "{}"})
	relay.forward(&redis.Message{Channel: "other:" + recipient.String(), Payload: "{}"})

	require.Equal(t, 1, sink.count(recipient))
	assert.JSONEq(t, `{"title":"Order update"}`, string(sink.messages[recipient][0]))
	assert.Len(t, sink.messages, 1)
}

type publishRecorder struct {
	redis.Cmdable
	channel string
	payload []byte
}

func (p *publishRecorder) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	p.payload = message.([]byte)
	return redis.NewIntResult(1, nil)
}

func TestRedisBroadcasterPublishesOnRecipientChannel(t *testing.T) {
	rec := &publishRecorder{}
	n := newNotification(uuid.New())
	require.NoError(t, NewRedisBroadcaster(rec).Broadcast(context.Background(), n))

	assert.Equal(t, channelPrefix+n.RecipientID.String(), rec.channel)
	var got Notification
	require.NoError(t, json.Unmarshal(rec.payload, &got))
	assert.Equal(t, n.ID, got.ID)
}
