package history

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists execution records as documents, one per run, in a
// "executions" collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoDoc struct {
	ExecutionID string        `bson:"_id"`
	WorkflowID  string        `bson:"workflow_id"`
	WorkflowRev string        `bson:"workflow_rev"`
	StartedAt   time.Time     `bson:"started_at"`
	FinishedAt  time.Time     `bson:"finished_at"`
	Cancelled   bool          `bson:"cancelled"`
	Nodes       []NodeOutcome `bson:"nodes"`
}

// NewMongoStore connects to a MongoDB deployment at dsn (a standard
// mongodb:// URI, with the target database name in its path).
func NewMongoStore(dsn string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dsn))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo history store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo history store: %w", err)
	}

	dbName := client.Database("").Name()
	if dbName == "" {
		dbName = "edgeflow"
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection("executions"),
	}, nil
}

func (s *MongoStore) Save(ctx context.Context, rec Record) error {
	doc := mongoDoc{
		ExecutionID: rec.ExecutionID,
		WorkflowID:  rec.WorkflowID,
		WorkflowRev: rec.WorkflowRev,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		Cancelled:   rec.Cancelled,
		Nodes:       rec.Nodes,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.ExecutionID}, doc, opts)
	if err != nil {
		return fmt.Errorf("save execution record: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, executionID string) (Record, error) {
	var doc mongoDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": executionID}).Decode(&doc); err != nil {
		return Record{}, fmt.Errorf("execution %s not found: %w", executionID, err)
	}
	return fromMongoDoc(doc), nil
}

func (s *MongoStore) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.M{"started_at": -1}).SetLimit(int64(limit))
	cur, err := s.collection.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list executions for workflow %s: %w", workflowID, err)
	}
	defer cur.Close(ctx)

	var out []Record
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		out = append(out, fromMongoDoc(doc))
	}
	return out, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func fromMongoDoc(doc mongoDoc) Record {
	return Record{
		ExecutionID: doc.ExecutionID,
		WorkflowID:  doc.WorkflowID,
		WorkflowRev: doc.WorkflowRev,
		StartedAt:   doc.StartedAt,
		FinishedAt:  doc.FinishedAt,
		Cancelled:   doc.Cancelled,
		Nodes:       doc.Nodes,
	}
}
