package natsrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localdocs/codec"
	"github.com/hupe1980/localdocs/retrieval"
	"github.com/hupe1980/localdocs/store"
	"github.com/hupe1980/localdocs/store/memstore"
	"github.com/hupe1980/localdocs/worker"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats not ready")

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func newWorker(t *testing.T) *worker.Worker {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.PutDocument(ctx, store.Document{ID: "doc", SessionID: "s", Title: "Manual", FileName: "manual.pdf", Enabled: true}))
	require.NoError(t, st.PutChunks(ctx, []store.Chunk{
		{ID: "c1", DocumentID: "doc", Content: "first", Embedding: []float32{1, 0}, EmbeddingNorm: 1},
		{ID: "c2", DocumentID: "doc", Content: "second", Embedding: []float32{0.9, 0.1}},
		{ID: "c3", DocumentID: "doc", Content: "third", Embedding: []float32{0, 1}, EmbeddingNorm: 1},
	}))
	engine, err := retrieval.New(st)
	require.NoError(t, err)

	w := worker.New(engine)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSearchOverNATS(t *testing.T) {
	nc := startNATS(t)
	sub, err := Serve(nc, DefaultSubject, newWorker(t))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for _, c := range []codec.Codec{codec.JSON{}, codec.GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			client := NewClient(nc, DefaultSubject, WithCodec(c), WithTimeout(5*time.Second))

			opts := retrieval.DefaultSearchOptions()
			opts.MaxResults = 2
			opts.SimilarityThreshold = 0.5

			results, err := client.Search(context.Background(), []float32{1, 0}, "s", opts)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, "c1", results[0].Chunk.ID)
			assert.Equal(t, "c2", results[1].Chunk.ID)
			assert.Equal(t, "Manual", results[0].Document.Title)
		})
	}
}

func TestErrorResponseOverNATS(t *testing.T) {
	nc := startNATS(t)
	sub, err := Serve(nc, "test.errors", newWorker(t), WithQueueGroup("workers"))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	client := NewClient(nc, "test.errors")
	_, err = client.Search(context.Background(), []float32{0, 0}, "s", retrieval.DefaultSearchOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")

	resp, err := client.Do(context.Background(), worker.Request{Type: "PING", ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, worker.TypeError, resp.Type)
	assert.Equal(t, "r1", resp.ID)
}

func TestMalformedRequest(t *testing.T) {
	nc := startNATS(t)
	sub, err := Serve(nc, "test.malformed", newWorker(t))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := nc.Request("test.malformed", []byte("{not json"), 5*time.Second)
	require.NoError(t, err)

	var resp worker.Response
	require.NoError(t, codec.Default.Unmarshal(reply.Data, &resp))
	assert.Equal(t, worker.TypeError, resp.Type)
	assert.Contains(t, resp.Error, "malformed request")
}

func TestNoResponders(t *testing.T) {
	nc := startNATS(t)
	client := NewClient(nc, "nobody.home", WithTimeout(time.Second))

	_, err := client.Search(context.Background(), []float32{1, 0}, "s", retrieval.DefaultSearchOptions())
	assert.True(t, errors.Is(err, nats.ErrNoResponders), "got %v", err)
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)

	assert.Empty(t, carrier.Get("traceparent"))
	assert.Nil(t, carrier.Keys())

	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Len(t, carrier.Keys(), 1)
}
