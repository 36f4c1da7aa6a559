// Package mongo implements store.Store on MongoDB. Uniqueness rules live in
// indexes (flow slug with case-insensitive collation, schema (name, version),
// pipeline (flow, version) and (flow, content hash), flow summary
// (flow, version), at most one published pipeline and one active flow summary
// per flow); transactions use driver
// sessions so repositories called with the transaction context join it.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/dslhub/dslhub/internal/store"
)

const (
	defaultDatabase  = "dslhub"
	defaultOpTimeout = 5 * time.Second
	clientName       = "store-mongo"
)

// Collection names.
const (
	collFlows           = "flows"
	collThreads         = "threads"
	collMessages        = "messages"
	collSchemaDefs      = "schema_defs"
	collSchemaChannels  = "schema_channels"
	collPipelines       = "pipelines"
	collRuns            = "generation_runs"
	collIssues          = "validation_issues"
	collThreadSummaries = "thread_summaries"
	collFlowSummaries   = "flow_summaries"
	collSnapshots       = "context_snapshots"
)

// Options configures the Mongo store.
type Options struct {
	// Client is the connected driver client. Required.
	Client *mongodriver.Client
	// Database defaults to "dslhub".
	Database string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// Store implements store.Store on MongoDB.
type Store struct {
	client  *mongodriver.Client
	db      *mongodriver.Database
	timeout time.Duration
}

var _ store.Store = (*Store)(nil)

// Connect dials MongoDB and returns a ready store with indexes ensured.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s, err := New(ctx, Options{Client: client, Database: database})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New wraps an existing client and ensures indexes.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		opts.Database = defaultDatabase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultOpTimeout
	}
	s := &Store{
		client:  opts.Client,
		db:      opts.Client.Database(opts.Database),
		timeout: opts.Timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// WithTx runs fn inside a session transaction. Repositories invoked with the
// context passed to fn join the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Store) Flows() store.Flows         { return flows{s} }
func (s *Store) Threads() store.Threads     { return threads{s} }
func (s *Store) Messages() store.Messages   { return messages{s} }
func (s *Store) Schemas() store.Schemas     { return schemas{s} }
func (s *Store) Pipelines() store.Pipelines { return pipelines{s} }
func (s *Store) Runs() store.Runs           { return runs{s} }
func (s *Store) Summaries() store.Summaries { return summaries{s} }
func (s *Store) Snapshots() store.Snapshots { return snapshots{s} }

func (s *Store) coll(name string) *mongodriver.Collection {
	return s.db.Collection(name)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	caseInsensitive := &options.Collation{Locale: "en", Strength: 2}

	byColl := map[string][]mongodriver.IndexModel{
		collFlows: {{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(caseInsensitive),
		}},
		collThreads: {{
			Keys: bson.D{{Key: "flow_id", Value: 1}, {Key: "started_at", Value: 1}},
		}},
		collMessages: {{
			Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		}},
		collSchemaDefs: {{
			Keys:    bson.D{{Key: "name", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		collPipelines: {
			{
				Keys:    bson.D{{Key: "flow_id", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "flow_id", Value: 1}, {Key: "content_hash", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"content_hash": bson.M{"$exists": true}}),
			},
			{
				// At most one published pipeline per flow.
				Keys: bson.D{{Key: "flow_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_published": true}),
			},
		},
		collRuns: {{
			Keys: bson.D{{Key: "flow_id", Value: 1}, {Key: "created_at", Value: -1}},
		}},
		collIssues: {{
			Keys: bson.D{{Key: "run_id", Value: 1}},
		}},
		collThreadSummaries: {{
			Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: -1}},
		}},
		collFlowSummaries: {
			{
				Keys:    bson.D{{Key: "flow_id", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				// At most one active summary per flow.
				Keys: bson.D{{Key: "flow_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_active": true}),
			},
		},
		collSnapshots: {{
			Keys: bson.D{{Key: "flow_id", Value: 1}},
		}},
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for name, models := range byColl {
		if _, err := s.coll(name).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongodriver.ErrNoDocuments):
		return store.ErrNotFound
	case mongodriver.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	}
	return err
}
