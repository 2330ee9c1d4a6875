package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-pg/pg/v10"
	"github.com/redis/go-redis/v9"

	"simcloud/internal/session"
)

var _ session.Store = (*Repository)(nil)

type Repository struct {
	db    *pg.DB
	redis redis.Cmdable
}

func NewRepository(db *pg.DB, redis redis.Cmdable) *Repository {
	return &Repository{
		db:    db,
		redis: redis,
	}
}

func (r *Repository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.db.ModelContext(ctx, toModel(s)).Insert()
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*session.Session, error) {
	if r.redis != nil {
		val, err := r.redis.Get(ctx, sessionCacheKey(id)).Result()
		if err == nil {
			var m SessionModel
			if err := json.Unmarshal([]byte(val), &m); err == nil {
				return fromModel(&m), nil
			}
		}
	}

	m := &SessionModel{ID: id}
	err := r.db.ModelContext(ctx, m).WherePK().Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if r.redis != nil {
		if b, err := json.Marshal(m); err == nil {
			_ = r.redis.Set(ctx, sessionCacheKey(id), b, sessionCacheTTL).Err()
		}
	}

	return fromModel(m), nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	var models []SessionModel
	err := r.db.ModelContext(ctx, &models).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Select()
	if err != nil {
		return nil, err
	}

	sessions := make([]*session.Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, fromModel(&models[i]))
	}
	return sessions, nil
}

func (r *Repository) ListByInstanceStatus(ctx context.Context, status session.InstanceStatus) ([]*session.Session, error) {
	var models []SessionModel
	err := r.db.ModelContext(ctx, &models).
		Where("instance_status = ?", status).
		Order("created_at ASC").
		Select()
	if err != nil {
		return nil, err
	}

	sessions := make([]*session.Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, fromModel(&models[i]))
	}
	return sessions, nil
}

// Replace overwrites the whole row guarded by the version read alongside it.
// Zero rows updated means either a concurrent writer won or the row is gone;
// a follow-up read tells the two apart.
func (r *Repository) Replace(ctx context.Context, s *session.Session) error {
	m := toModel(s)
	m.Version = s.Version + 1

	res, err := r.db.ModelContext(ctx, m).
		WherePK().
		Where("version = ?", s.Version).
		Update()
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		exists, err := r.db.ModelContext(ctx, &SessionModel{ID: s.ID}).WherePK().Exists()
		if err != nil {
			return err
		}
		if !exists {
			return session.ErrNotFound
		}
		return session.ErrVersionConflict
	}

	s.Version = m.Version

	if r.redis != nil {
		_ = r.redis.Del(ctx, sessionCacheKey(s.ID)).Err()
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ModelContext(ctx, &SessionModel{ID: id}).WherePK().Delete()
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return session.ErrNotFound
	}

	if r.redis != nil {
		_ = r.redis.Del(ctx, sessionCacheKey(id)).Err()
	}

	return nil
}
