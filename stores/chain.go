package stores

import (
	"context"

	"gorm.io/gorm"
)

const consensusInfoID = 1

type dbConsensusInfo struct {
	Model
	Height uint64 `gorm:"NOT NULL;default:0"`
}

func (dbConsensusInfo) TableName() string { return "consensus_infos" }

func initConsensusInfo(db *gorm.DB) error {
	var ci dbConsensusInfo
	return db.
		Where(&dbConsensusInfo{Model: Model{ID: consensusInfoID}}).
		Attrs(dbConsensusInfo{Model: Model{ID: consensusInfoID}}).
		FirstOrCreate(&ci).
		Error
}

// ChainHeight implements chain.Store.
func (s *SQLStore) ChainHeight(ctx context.Context) (uint64, error) {
	var ci dbConsensusInfo
	if err := s.db.
		WithContext(ctx).
		Where(&dbConsensusInfo{Model: Model{ID: consensusInfoID}}).
		Take(&ci).
		Error; err != nil {
		return 0, err
	}
	return ci.Height, nil
}

// UpdateChainHeight implements chain.Store.
func (s *SQLStore) UpdateChainHeight(ctx context.Context, height uint64) error {
	return s.retryTransaction(ctx, func(tx *gorm.DB) error {
		return tx.
			Model(&dbConsensusInfo{}).
			Where("id = ?", consensusInfoID).
			Update("height", height).
			Error
	})
}
