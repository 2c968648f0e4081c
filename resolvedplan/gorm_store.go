package resolvedplan

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/planflow/internal/database"
)

// nodeRecord is the SQL row of a resolved plan node.
type nodeRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	ExecutionID  string `gorm:"index;size:64"`
	ParentID     string `gorm:"index;size:64"`
	ParentSource string `gorm:"size:16"`
	Position     int
	ArtefactHash string `gorm:"index;size:64"`
	Artefact     string `gorm:"type:text"`
}

// TableName implements gorm's tabler.
func (nodeRecord) TableName() string {
	return "resolved_plan_nodes"
}

func toRecord(n *Node) (*nodeRecord, error) {
	artefact, err := encodeArtefact(n.Artefact)
	if err != nil {
		return nil, err
	}
	return &nodeRecord{
		ID:           n.ID,
		ExecutionID:  n.ExecutionID,
		ParentID:     n.ParentID,
		ParentSource: string(n.ParentSource),
		Position:     n.Position,
		ArtefactHash: n.ArtefactHash,
		Artefact:     artefact,
	}, nil
}

func (r *nodeRecord) toNode() (*Node, error) {
	artefact, err := decodeArtefact(r.Artefact)
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:           r.ID,
		ExecutionID:  r.ExecutionID,
		Artefact:     artefact,
		ArtefactHash: r.ArtefactHash,
		ParentID:     r.ParentID,
		ParentSource: ParentSource(r.ParentSource),
		Position:     r.Position,
	}, nil
}

// GormStore is a SQL implementation of Store on top of gorm.
type GormStore struct {
	db   *gorm.DB
	pool *database.PoolManager
}

// NewGormStore migrates the node table and returns a store using db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&nodeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate resolved plan nodes: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromPool builds a store that owns pm and closes it on Close.
func NewGormStoreFromPool(pm *database.PoolManager) (*GormStore, error) {
	s, err := NewGormStore(pm.DB())
	if err != nil {
		return nil, err
	}
	s.pool = pm
	return s, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	if s.pool != nil {
		return s.pool.Close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Save implements Store.
func (s *GormStore) Save(ctx context.Context, node *Node) error {
	if err := node.validate(); err != nil {
		return err
	}
	rec, err := toRecord(node)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, id string) (*Node, error) {
	var rec nodeRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toNode()
}

// FindByParentID implements Store.
func (s *GormStore) FindByParentID(ctx context.Context, parentID string) ([]*Node, error) {
	return s.find(ctx, "parent_id = ?", parentID)
}

// FindByExecutionID implements Store.
func (s *GormStore) FindByExecutionID(ctx context.Context, executionID string) ([]*Node, error) {
	return s.find(ctx, "execution_id = ?", executionID)
}

func (s *GormStore) find(ctx context.Context, where string, arg string) ([]*Node, error) {
	var recs []nodeRecord
	if err := s.db.WithContext(ctx).Where(where, arg).Order("position, id").Find(&recs).Error; err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(recs))
	for i := range recs {
		n, err := recs[i].toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
