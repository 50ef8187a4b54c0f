// internal/directory/reader.go
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// Reader is the read-only consultant directory consumed by the matcher and
// the engine facade. Implementations must not mutate directory state.
type Reader interface {
	ListConsultants(ctx context.Context, sectorID string, activeOnly bool) ([]models.Consultant, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	OpenLoad(ctx context.Context, consultantID string) (int, error)
}

// SQLReader reads the consultant directory from Postgres, with a Redis
// cache in front of user lookups.
type SQLReader struct {
	db       *sql.DB
	redis    *redis.Client
	cacheTTL time.Duration
	logger   logger.Logger
}

func NewSQLReader(db *sql.DB, rdb *redis.Client, cacheTTL time.Duration, log logger.Logger) *SQLReader {
	return &SQLReader{
		db:       db,
		redis:    rdb,
		cacheTTL: cacheTTL,
		logger:   log.WithFields(map[string]interface{}{"component": "directory"}),
	}
}

// ListConsultants returns the consultants affiliated with a sector. Load is
// not included; callers compute it per candidate so scoring always sees
// fresh counts.
func (r *SQLReader) ListConsultants(ctx context.Context, sectorID string, activeOnly bool) ([]models.Consultant, error) {
	query := `
		SELECT id, name, email, sector_id, active, approved, max_concurrent_applications, created_at
		FROM consultants
		WHERE sector_id = $1`
	if activeOnly {
		query += ` AND active = true AND approved = true`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, sectorID)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("list consultants", err)
	}
	defer rows.Close()

	var consultants []models.Consultant
	for rows.Next() {
		var c models.Consultant
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.SectorID, &c.Active, &c.Approved,
			&c.MaxConcurrentApplications, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consultant: %w", err)
		}
		consultants = append(consultants, c)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("list consultants", err)
	}

	return consultants, nil
}

// GetUser resolves a platform user's sector and role.
func (r *SQLReader) GetUser(ctx context.Context, userID string) (*models.User, error) {
	cacheKey := "directory:user:" + userID
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, cacheKey).Result(); err == nil {
			var user models.User
			if err := json.Unmarshal([]byte(val), &user); err == nil {
				return &user, nil
			}
		}
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, sector_id, role
		FROM users
		WHERE id = $1`, userID)

	var user models.User
	if err := row.Scan(&user.ID, &user.SectorID, &user.Role); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found: %s", userID)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if r.redis != nil {
		data, _ := json.Marshal(user)
		if err := r.redis.Set(ctx, cacheKey, data, r.cacheTTL).Err(); err != nil {
			r.logger.Warn("user cache write failed", map[string]interface{}{
				"userId": userID,
				"error":  err,
			})
		}
	}

	return &user, nil
}

// OpenLoad counts the applications currently assigned to a consultant in an
// open status. Resolved applications do not count against load.
func (r *SQLReader) OpenLoad(ctx context.Context, consultantID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM applications
		WHERE assigned_consultant_id = $1
		  AND status IN ('pending', 'under_review', 'additional_info_required')`, consultantID)

	var load int
	if err := row.Scan(&load); err != nil {
		return 0, commonerrors.NewQueryExecutionFailedError("consultant load", err)
	}
	return load, nil
}
