package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/repository/memrepo"
)

type publishedMessage struct {
	topic, key string
	value      []byte
}

type fakeProducer struct {
	published []publishedMessage
	closed    bool
}

func (f *fakeProducer) Publish(topic, key string, value []byte) error {
	f.published = append(f.published, publishedMessage{topic, key, value})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestPublisherPublishEvent(t *testing.T) {
	fake := &fakeProducer{}
	pub := NewPublisher(fake, "deal-events")

	e := deal.Event{At: time.Now(), Level: deal.EventInfo, Code: deal.EventStageTransition, Message: "WAITING -> LOCKED"}
	require.NoError(t, pub.PublishEvent("deal-1", e))

	require.Len(t, fake.published, 1)
	require.Equal(t, "deal-events", fake.published[0].topic)
	require.Equal(t, "deal-1", fake.published[0].key)

	var msg message
	require.NoError(t, json.Unmarshal(fake.published[0].value, &msg))
	require.Equal(t, "deal-1", msg.DealID)
	require.Equal(t, deal.EventStageTransition, msg.Event.Code)
}

func TestPublishingDealRepoPublishesOnAddEvent(t *testing.T) {
	store := memrepo.New()
	store.PutDeal(&deal.Deal{DealID: "deal-1", Stage: deal.StageWaiting})

	fake := &fakeProducer{}
	pub := NewPublisher(fake, "deal-events")
	wrapped := NewPublishingDealRepo(store.Deals(), pub)

	e := deal.Event{At: time.Now(), Level: deal.EventWarn, Code: deal.EventGasBumped, Message: "bumped"}
	require.NoError(t, wrapped.AddEvent(context.Background(), nil, "deal-1", e))

	require.Len(t, fake.published, 1)

	d, err := store.Deals().Get(context.Background(), nil, "deal-1")
	require.NoError(t, err)
	require.Len(t, d.Events, 1)
	require.Equal(t, deal.EventGasBumped, d.Events[0].Code)
}

func TestPublishingDealRepoSkipsPublishOnAddEventFailure(t *testing.T) {
	store := memrepo.New()
	fake := &fakeProducer{}
	pub := NewPublisher(fake, "deal-events")
	wrapped := NewPublishingDealRepo(store.Deals(), pub)

	err := wrapped.AddEvent(context.Background(), nil, "missing-deal", deal.Event{})
	require.Error(t, err)
	require.Len(t, fake.published, 0)
}
