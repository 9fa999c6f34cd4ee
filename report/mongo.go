package report

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AlduinoCalderon/AzureKinectDK/fusion"
)

// summaryInserter is the slice of *mongo.Collection the recorder needs,
// kept narrow so tests can fake it.
type summaryInserter interface {
	InsertOne(ctx context.Context, document interface{},
		opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoRecorder persists session summaries to a MongoDB collection.
type MongoRecorder struct {
	client *mongo.Client
	coll   summaryInserter
}

// NewMongoRecorder connects to the given MongoDB URI and records summaries
// into database/collection.
func NewMongoRecorder(ctx context.Context, uri, database, collection string) (*MongoRecorder, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo ping")
	}
	return &MongoRecorder{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

// RecordSummary implements Recorder.
func (r *MongoRecorder) RecordSummary(ctx context.Context, summary fusion.Summary) error {
	_, err := r.coll.InsertOne(ctx, summary)
	return errors.Wrap(err, "insert session summary")
}

// Close implements Recorder.
func (r *MongoRecorder) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}
