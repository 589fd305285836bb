// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package mongostore implements a state backend that stores cached entities
// in a MongoDB database. Each entity category is stored in its own collection,
// with one document per key:
//
//	{scope: <int64>, id: <int64>, value: <entity document>}
//
// Documents are indexed uniquely by (scope, id), and scans report them in
// that order.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/gateway/state"
	"github.com/creachadair/gateway/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Options are optional settings for a Factory. A nil *Options is ready for
// use and provides defaults as described.
type Options struct {
	// Collections are named Prefix + category, for example "cache_guild".
	// If empty, the default is "gateway_".
	Prefix string

	// Logger receives connection pool diagnostics at debug level.
	// If nil, logs are discarded.
	Logger *slog.Logger
}

func (o *Options) prefix() string {
	if o == nil || o.Prefix == "" {
		return "gateway_"
	}
	return o.Prefix
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Factory provides backends stored in the collections of a database. It
// returns the same backend each time a category is requested.
type Factory struct {
	db     *mongo.Database
	prefix string
	client *mongo.Client // set if the factory owns the connection

	μ      sync.Mutex
	stores map[store.Flag]*Store
}

var _ state.Factory = (*Factory)(nil)

// NewFactory constructs a factory over the collections of db.
func NewFactory(db *mongo.Database, opts *Options) *Factory {
	return &Factory{db: db, prefix: opts.prefix(), stores: make(map[store.Flag]*Store)}
}

// Open connects to the MongoDB server at uri and returns a factory over the
// named database. The caller must call Close when the factory is no longer
// in use.
func Open(ctx context.Context, uri, database string, opts *Options) (*Factory, error) {
	log := opts.logger()
	co := options.Client().ApplyURI(uri).SetAppName("gateway")
	co.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated, event.ConnectionClosed:
				log.Debug("mongo pool", "event", evt.Type, "address", evt.Address)
			}
		},
	})

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, co)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping: %w", err)
	}
	f := NewFactory(client.Database(database), opts)
	f.client = client
	return f, nil
}

// Close disconnects the client opened by Open. It does nothing for a factory
// constructed by NewFactory.
func (f *Factory) Close(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Disconnect(ctx)
}

// Provide implements the [state.Factory] interface. The first request for a
// category ensures the key index of its collection exists.
func (f *Factory) Provide(ctx context.Context, c store.Flag) (state.Backend, error) {
	f.μ.Lock()
	defer f.μ.Unlock()
	if s, ok := f.stores[c]; ok {
		return s, nil
	}
	if _, err := state.NewValue(c); err != nil {
		return nil, err
	}
	coll := f.db.Collection(f.CollectionName(c))
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keyOrder,
		Options: options.Index().SetUnique(true).SetName("scope_id_unique"),
	}); err != nil {
		return nil, fmt.Errorf("create index for %v: %w", c, err)
	}
	s := &Store{coll: coll, category: c}
	f.stores[c] = s
	return s, nil
}

// Store is a backend stored in a single collection.
type Store struct {
	coll     *mongo.Collection
	category store.Flag
}

var _ state.Backend = (*Store)(nil)

var keyOrder = bson.D{{Key: "scope", Value: 1}, {Key: "id", Value: 1}}

// document is the stored form of an entry.
type document struct {
	Scope int64    `bson:"scope"`
	ID    int64    `bson:"id"`
	Value bson.Raw `bson:"value"`
}

func (d document) key() state.Key {
	return state.Key{Scope: entity.ID(d.Scope), ID: entity.ID(d.ID)}
}

func keyFilter(k state.Key) bson.D {
	return bson.D{{Key: "scope", Value: int64(k.Scope)}, {Key: "id", Value: int64(k.ID)}}
}

// rangeFilter matches keys in [lo, hi) under (scope, id) ordering.
func rangeFilter(lo, hi state.Key) bson.D {
	ge := bson.A{
		bson.D{{Key: "scope", Value: bson.D{{Key: "$gt", Value: int64(lo.Scope)}}}},
		bson.D{{Key: "scope", Value: int64(lo.Scope)}, {Key: "id", Value: bson.D{{Key: "$gte", Value: int64(lo.ID)}}}},
	}
	lt := bson.A{
		bson.D{{Key: "scope", Value: bson.D{{Key: "$lt", Value: int64(hi.Scope)}}}},
		bson.D{{Key: "scope", Value: int64(hi.Scope)}, {Key: "id", Value: bson.D{{Key: "$lt", Value: int64(hi.ID)}}}},
	}
	return bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$or", Value: ge}},
		bson.D{{Key: "$or", Value: lt}},
	}}}
}

func (s *Store) decode(d document) (any, error) {
	v, err := state.NewValue(s.category)
	if err != nil {
		return nil, err
	}
	if err := bson.Unmarshal(d.Value, v); err != nil {
		return nil, fmt.Errorf("decode %v %v: %w", s.category, d.key(), err)
	}
	return v, nil
}

// scan returns the documents matching filter in key order.
func (s *Store) scan(ctx context.Context, filter bson.D, keysOnly bool) ([]document, error) {
	fo := options.Find().SetSort(keyOrder)
	if keysOnly {
		fo.SetProjection(bson.D{{Key: "scope", Value: 1}, {Key: "id", Value: 1}})
	}
	cur, err := s.coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, err
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) values(docs []document) ([]any, error) {
	out := make([]any, len(docs))
	for i, d := range docs {
		v, err := s.decode(d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, key state.Key, v any) error {
	raw, err := bson.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %v %v: %w", s.category, key, err)
	}
	doc := document{Scope: int64(key.Scope), ID: int64(key.ID), Value: raw}
	_, err = s.coll.ReplaceOne(ctx, keyFilter(key), doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) Find(ctx context.Context, key state.Key) (any, bool, error) {
	var d document
	err := s.coll.FindOne(ctx, keyFilter(key)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	v, err := s.decode(d)
	return v, err == nil, err
}

func (s *Store) FindInRange(ctx context.Context, lo, hi state.Key) ([]any, error) {
	docs, err := s.scan(ctx, rangeFilter(lo, hi), false)
	if err != nil {
		return nil, err
	}
	return s.values(docs)
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.D{})
}

func (s *Store) Keys(ctx context.Context) ([]state.Key, error) {
	docs, err := s.scan(ctx, bson.D{}, true)
	if err != nil {
		return nil, err
	}
	out := make([]state.Key, len(docs))
	for i, d := range docs {
		out[i] = d.key()
	}
	return out, nil
}

func (s *Store) Values(ctx context.Context) ([]any, error) {
	docs, err := s.scan(ctx, bson.D{}, false)
	if err != nil {
		return nil, err
	}
	return s.values(docs)
}

func (s *Store) Entries(ctx context.Context) ([]state.Entry, error) {
	docs, err := s.scan(ctx, bson.D{}, false)
	if err != nil {
		return nil, err
	}
	vs, err := s.values(docs)
	if err != nil {
		return nil, err
	}
	out := make([]state.Entry, len(docs))
	for i, d := range docs {
		out[i] = state.Entry{Key: d.key(), Value: vs[i]}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key state.Key) error {
	_, err := s.coll.DeleteOne(ctx, keyFilter(key))
	return err
}

func (s *Store) DeleteInRange(ctx context.Context, lo, hi state.Key) error {
	_, err := s.coll.DeleteMany(ctx, rangeFilter(lo, hi))
	return err
}

func (s *Store) Invalidate(ctx context.Context) error {
	_, err := s.coll.DeleteMany(ctx, bson.D{})
	return err
}

// Drop removes the collections of every backend provided by f.
func (f *Factory) Drop(ctx context.Context) error {
	f.μ.Lock()
	defer f.μ.Unlock()
	var errs []error
	for c, s := range f.stores {
		if err := s.coll.Drop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drop %v: %w", c, err))
		}
		delete(f.stores, c)
	}
	return errors.Join(errs...)
}

// CollectionName reports the name of the collection used for category c.
func (f *Factory) CollectionName(c store.Flag) string { return f.prefix + c.String() }
