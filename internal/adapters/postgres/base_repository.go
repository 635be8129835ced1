package postgres

import "context"

type BaseRepository struct {
	db DBTX
}

func NewBaseRepository(db DBTX) BaseRepository {
	return BaseRepository{db: db}
}

func (r *BaseRepository) conn(ctx context.Context) DBTX {
	return GetConn(ctx, r.db)
}
