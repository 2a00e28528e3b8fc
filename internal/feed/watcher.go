package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/model"
)

const (
	// Backoff between change stream reopen attempts.
	reopenBaseDelay = 500 * time.Millisecond
	reopenMaxDelay  = 10 * time.Second
)

// Sink receives feed events. The hub implements it by fanning events out
// to every connected client's reconciler queue.
type Sink interface {
	Enqueue(ev event.FeedEvent) bool
}

// Watcher tails the call_sessions collection through a MongoDB change
// stream and publishes each mutation as a FeedEvent. The stream delivers
// per-record-ordered, at-least-once notifications; nothing downstream may
// assume more than that.
type Watcher struct {
	db         *mongo.Database
	collection string
	sink       Sink
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	alive  atomic.Bool
}

func NewWatcher(db *mongo.Database, collection string, sink Sink, logger *zap.Logger) *Watcher {
	return &Watcher{
		db:         db,
		collection: collection,
		sink:       sink,
		logger:     logger,
	}
}

// Start opens the change stream and begins publishing events.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop closes the stream and waits for the publish loop to drain.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Alive reports whether the change stream is currently open.
func (w *Watcher) Alive() bool {
	return w.alive.Load()
}

type changeDocument struct {
	OperationType string            `bson:"operationType"`
	FullDocument  model.CallSession `bson:"fullDocument"`
}

func (w *Watcher) run(ctx context.Context) {
	var resumeToken bson.Raw
	delay := reopenBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}

		pipeline := mongo.Pipeline{
			bson.D{{Key: "$match", Value: bson.M{
				"operationType": bson.M{"$in": []string{"insert", "update", "replace"}},
			}}},
		}
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if resumeToken != nil {
			opts.SetResumeAfter(resumeToken)
		}

		stream, err := w.db.Collection(w.collection).Watch(ctx, pipeline, opts)
		if err != nil {
			w.logger.Error("failed to open change stream",
				zap.String("collection", w.collection),
				zap.Error(err),
			)
			if !w.sleep(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		w.alive.Store(true)
		w.logger.Info("change stream open", zap.String("collection", w.collection))
		delay = reopenBaseDelay

		for stream.Next(ctx) {
			resumeToken = stream.ResumeToken()

			var doc changeDocument
			if err := stream.Decode(&doc); err != nil {
				w.logger.Warn("failed to decode change event", zap.Error(err))
				continue
			}
			// Deleted-between-update lookups come through with an empty
			// full document; skip them, the next change carries state.
			if doc.FullDocument.ID.IsZero() {
				continue
			}

			w.sink.Enqueue(event.FeedEvent{
				Collection: event.CollectionCallSessions,
				ChangeType: changeTypeOf(doc.OperationType),
				Record:     doc.FullDocument,
			})
		}

		w.alive.Store(false)
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			w.logger.Warn("change stream interrupted, reopening",
				zap.String("collection", w.collection),
				zap.Error(err),
			)
		}
		stream.Close(context.Background())

		if ctx.Err() != nil {
			return
		}
		if !w.sleep(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func changeTypeOf(operationType string) event.ChangeType {
	if operationType == "insert" {
		return event.ChangeCreated
	}
	return event.ChangeUpdated
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > reopenMaxDelay {
		d = reopenMaxDelay
	}
	return d
}
