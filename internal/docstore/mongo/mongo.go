// Package mongo is the MongoDB docstore backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/starford/nbstore/internal/docstore"
)

// Config selects the server and database.
type Config struct {
	URI string
	// ReplicaSet switches to replica-set mode, which also enables transactions.
	ReplicaSet     string
	Database       string
	ConnectTimeout time.Duration
}

// Store is a connected MongoDB database.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	replicaSet string
}

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// Dial connects and verifies the server answers.
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ReplicaSet != "" {
		opts.SetReplicaSet(cfg.ReplicaSet)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return &Store{
		client:     client,
		db:         client.Database(cfg.Database),
		replicaSet: cfg.ReplicaSet,
	}, nil
}

// Dialer returns a docstore.Dialer for cfg.
func Dialer(cfg Config) docstore.Dialer {
	return func(ctx context.Context) (docstore.Store, error) {
		return Dial(ctx, cfg)
	}
}

// Collection returns a handle on the named collection.
func (s *Store) Collection(name string) docstore.Collection {
	return &Collection{coll: s.db.Collection(name)}
}

// Ping asks the primary for a round trip. Inside a transaction the session
// is already bound to a live server.
func (s *Store) Ping(ctx context.Context) error {
	if mongo.SessionFromContext(ctx) != nil {
		return nil
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// TransactionsEnabled reports whether a replica set is configured.
func (s *Store) TransactionsEnabled() bool {
	return s.replicaSet != ""
}

// WithTransaction runs fn in a multi-document transaction. Standalone servers
// have no transactions, so without a replica set fn runs directly.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.replicaSet == "" || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// Collection wraps one MongoDB collection.
type Collection struct {
	coll *mongo.Collection
}

func filterDoc(f docstore.Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M(f)
}

func projection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	p := make(bson.D, 0, len(fields))
	for _, f := range fields {
		p = append(p, bson.E{Key: f, Value: 1})
	}
	return p
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongo: %s: %w: %w", op, docstore.ErrDuplicateKey, err)
	}
	return fmt.Errorf("mongo: %s: %w", op, err)
}

func (c *Collection) Find(ctx context.Context, filter docstore.Filter, fields ...string) ([]docstore.Document, error) {
	opts := options.Find()
	if p := projection(fields); p != nil {
		opts.SetProjection(p)
	}
	cur, err := c.coll.Find(ctx, filterDoc(filter), opts)
	if err != nil {
		return nil, wrap("find", err)
	}
	defer cur.Close(ctx)

	var out []docstore.Document
	for cur.Next(ctx) {
		doc, err := docstore.DecodeRaw(cur.Current)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, wrap("find", cur.Err())
}

func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter, fields ...string) (docstore.Document, error) {
	opts := options.FindOne()
	if p := projection(fields); p != nil {
		opts.SetProjection(p)
	}
	raw, err := c.coll.FindOne(ctx, filterDoc(filter), opts).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNoDocuments
	}
	if err != nil {
		return nil, wrap("find one", err)
	}
	return docstore.DecodeRaw(raw)
}

func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, filterDoc(filter))
	return n, wrap("count", err)
}

func (c *Collection) Insert(ctx context.Context, doc docstore.Document) (any, error) {
	d := docstore.Clone(doc)
	if _, ok := d[docstore.IDField]; !ok {
		d[docstore.IDField] = docstore.NewID()
	}
	res, err := c.coll.InsertOne(ctx, bson.M(d))
	if err != nil {
		return nil, wrap("insert", err)
	}
	return res.InsertedID, nil
}

func (c *Collection) Update(ctx context.Context, filter docstore.Filter, set docstore.Document, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = bson.M(set)
	}
	if opts.Upsert && len(opts.SetOnInsert) > 0 {
		update["$setOnInsert"] = bson.M(opts.SetOnInsert)
	}
	if len(update) == 0 {
		n, err := c.Count(ctx, filter)
		if !opts.Multi && n > 1 {
			n = 1
		}
		return docstore.UpdateResult{Matched: n}, err
	}

	var res *mongo.UpdateResult
	var err error
	if opts.Multi {
		res, err = c.coll.UpdateMany(ctx, filterDoc(filter), update, options.UpdateMany().SetUpsert(opts.Upsert))
	} else {
		res, err = c.coll.UpdateOne(ctx, filterDoc(filter), update, options.UpdateOne().SetUpsert(opts.Upsert))
	}
	if err != nil {
		return docstore.UpdateResult{}, wrap("update", err)
	}
	return docstore.UpdateResult{
		Matched:    res.MatchedCount,
		Modified:   res.ModifiedCount,
		UpsertedID: res.UpsertedID,
	}, nil
}

func (c *Collection) Remove(ctx context.Context, filter docstore.Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filterDoc(filter))
	if err != nil {
		return 0, wrap("remove", err)
	}
	return res.DeletedCount, nil
}

func (c *Collection) EnsureUniqueIndex(ctx context.Context, keys ...string) error {
	model := mongo.IndexModel{
		Keys:    projection(keys),
		Options: options.Index().SetUnique(true),
	}
	_, err := c.coll.Indexes().CreateOne(ctx, model)
	return wrap("create index", err)
}
