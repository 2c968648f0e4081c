package resolvedplan

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/planflow/config"
)

// mongoNode is the BSON document of a resolved plan node. The artefact is
// kept as JSON text so dynamic attribute definitions round trip unchanged.
type mongoNode struct {
	ID           string `bson:"_id"`
	ExecutionID  string `bson:"executionId,omitempty"`
	ParentID     string `bson:"parentId,omitempty"`
	ParentSource string `bson:"parentSource,omitempty"`
	Position     int    `bson:"position"`
	ArtefactHash string `bson:"artefactHash"`
	Artefact     string `bson:"artefact"`
}

// MongoStore is a MongoDB implementation of Store using one collection with
// non-unique indexes on parentId and executionId.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	ownClient  bool
}

// NewMongoStore uses an existing collection and ensures its indexes.
func NewMongoStore(ctx context.Context, collection *mongo.Collection) (*MongoStore, error) {
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "parentId", Value: 1}, {Key: "position", Value: 1}}},
		{Keys: bson.D{{Key: "executionId", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create resolved plan indexes: %w", err)
	}
	return &MongoStore{client: collection.Database().Client(), collection: collection}, nil
}

// NewMongoStoreFromConfig connects to MongoDB and opens the configured collection.
func NewMongoStoreFromConfig(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "resolvedPlans"
	}
	s, err := NewMongoStore(ctx, client.Database(cfg.Database).Collection(collection))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s.ownClient = true
	return s, nil
}

// Close disconnects the client when the store created it.
func (s *MongoStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// Ping checks if the store is healthy
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, node *Node) error {
	if err := node.validate(); err != nil {
		return err
	}
	artefact, err := encodeArtefact(node.Artefact)
	if err != nil {
		return err
	}
	doc := mongoNode{
		ID:           node.ID,
		ExecutionID:  node.ExecutionID,
		ParentID:     node.ParentID,
		ParentSource: string(node.ParentSource),
		Position:     node.Position,
		ArtefactHash: node.ArtefactHash,
		Artefact:     artefact,
	}
	_, err = s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: node.ID}}, doc,
		options.Replace().SetUpsert(true))
	return err
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, id string) (*Node, error) {
	var doc mongoNode
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toNode()
}

// FindByParentID implements Store.
func (s *MongoStore) FindByParentID(ctx context.Context, parentID string) ([]*Node, error) {
	return s.find(ctx, bson.D{{Key: "parentId", Value: parentID}})
}

// FindByExecutionID implements Store.
func (s *MongoStore) FindByExecutionID(ctx context.Context, executionID string) ([]*Node, error) {
	return s.find(ctx, bson.D{{Key: "executionId", Value: executionID}})
}

func (s *MongoStore) find(ctx context.Context, filter bson.D) ([]*Node, error) {
	cursor, err := s.collection.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []mongoNode
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(docs))
	for i := range docs {
		n, err := docs[i].toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (d *mongoNode) toNode() (*Node, error) {
	artefact, err := decodeArtefact(d.Artefact)
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:           d.ID,
		ExecutionID:  d.ExecutionID,
		Artefact:     artefact,
		ArtefactHash: d.ArtefactHash,
		ParentID:     d.ParentID,
		ParentSource: ParentSource(d.ParentSource),
		Position:     d.Position,
	}, nil
}
