package repositories

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/auctions/internal/cache"
	"example.com/backstage/services/auctions/internal/database"
	"example.com/backstage/services/auctions/internal/models"
)

// UserFilter narrows a user directory lookup
type UserFilter struct {
	IDs             []string
	ExcludeIDs      []string
	ExcludeRoles    []string
	ActiveOnly      bool
	NotOptedOutOnly bool
	Limit           int
}

// UserRepository reads the account service's users through the read-only handle
type UserRepository struct {
	readOnlyDB *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(readOnlyDB *gorm.DB) *UserRepository {
	return &UserRepository{readOnlyDB: readOnlyDB}
}

// GetUser returns a single user
func (r *UserRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.readOnlyDB.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get user")
	}
	return &u, nil
}

// FindUsers returns the users matching filter
func (r *UserRepository) FindUsers(ctx context.Context, filter UserFilter) ([]models.User, error) {
	q := r.readOnlyDB.WithContext(ctx).Model(&models.User{})
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if len(filter.ExcludeIDs) > 0 {
		q = q.Where("id NOT IN ?", filter.ExcludeIDs)
	}
	if len(filter.ExcludeRoles) > 0 {
		q = q.Where("role NOT IN ?", filter.ExcludeRoles)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if filter.NotOptedOutOnly {
		q = q.Where("notifications_opt_out = ?", false)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var users []models.User
	if err := q.Order("id").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find users")
	}
	return users, nil
}

// CommissionRateRepository reads per-category flat commission estimates,
// cached in Redis when the cache is enabled
type CommissionRateRepository struct {
	readOnlyDB *gorm.DB
	cache      *cache.RedisCache
}

// NewCommissionRateRepository creates a new commission rate repository
func NewCommissionRateRepository(readOnlyDB *gorm.DB, redisCache *cache.RedisCache) *CommissionRateRepository {
	if redisCache == nil {
		redisCache = cache.Disabled()
	}
	return &CommissionRateRepository{readOnlyDB: readOnlyDB, cache: redisCache}
}

// GetCommissionRateConfig returns the category's flat commission estimate
func (r *CommissionRateRepository) GetCommissionRateConfig(ctx context.Context, category string) (*models.CategoryCommissionRate, error) {
	key := cache.CommissionRateKey(category)

	var cached models.CategoryCommissionRate
	if err := r.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Str("category", category).Msg("commission rate cache read failed")
	}

	var rate models.CategoryCommissionRate
	err := r.readOnlyDB.WithContext(ctx).Where("category = ?", category).First(&rate).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get commission rate")
	}

	if err := r.cache.Set(ctx, key, rate, 0); err != nil {
		log.Warn().Err(err).Str("category", category).Msg("commission rate cache write failed")
	}
	return &rate, nil
}
