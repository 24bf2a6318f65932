// Package authorization evaluates permission grants with a cache layer and
// an administrative short-circuit. Unlike rate limiting, nothing here fails
// open: an unreachable grant store denies access and surfaces an internal
// error, because silently granting on infrastructure failure is never
// acceptable.
package authorization

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
	"github.com/gatehouse-io/gatehouse/kit/platform/errors"
)

// Service resolves permission checks against a grant store, caching
// resolved levels per (user, rule) for gatehouse.PermissionCacheTTL.
type Service struct {
	grants gatehouse.GrantStore
	cache  gatehouse.CacheStore
	logger *zap.Logger
}

var _ gatehouse.PermissionService = (*Service)(nil)

// NewService returns a permission service over the given stores.
func NewService(grants gatehouse.GrantStore, cache gatehouse.CacheStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		grants: grants,
		cache:  cache,
		logger: log,
	}
}

func grantCacheKey(userID uuid.UUID, rule string) string {
	return "perm:grant:" + userID.String() + ":" + rule
}

func adminCacheKey(userID uuid.UUID) string {
	return "perm:admin:" + userID.String()
}

// HasPermission reports whether the user holds at least the required level
// on the named rule. Holders of the Admin super-grant pass unconditionally.
// Unauthenticated principals (nil user ID) always fail.
func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, rule string, required gatehouse.PermissionLevel) (bool, error) {
	if userID == uuid.Nil {
		return false, nil
	}

	admin, err := s.hasAdminGrant(ctx, userID)
	if err != nil {
		return false, err
	}
	if admin {
		s.logger.Debug("permission granted by admin short-circuit",
			zap.String("user_id", userID.String()),
			zap.String("rule", rule),
		)
		return true, nil
	}

	if level, ok := s.cachedLevel(ctx, userID, rule); ok {
		allowed := level.Satisfies(required)
		s.logger.Debug("permission decision from cache",
			zap.String("user_id", userID.String()),
			zap.String("rule", rule),
			zap.Stringer("level", level),
			zap.Bool("allowed", allowed),
		)
		return allowed, nil
	}

	level, found, err := s.grants.Level(ctx, userID, rule)
	if err != nil {
		return false, &errors.Error{
			Code: errors.EInternal,
			Msg:  "permission store unavailable",
			Op:   "authorization.HasPermission",
			Err:  err,
		}
	}
	if !found {
		// No implicit access, and absent grants are not cached.
		return false, nil
	}

	s.cacheLevel(ctx, userID, rule, level)

	allowed := level.Satisfies(required)
	s.logger.Debug("permission decision from grant store",
		zap.String("user_id", userID.String()),
		zap.String("rule", rule),
		zap.Stringer("level", level),
		zap.Bool("allowed", allowed),
	)
	return allowed, nil
}

// hasAdminGrant checks Admin rule membership, caching both outcomes.
func (s *Service) hasAdminGrant(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := adminCacheKey(userID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return string(raw) == "1", nil
	}

	_, found, err := s.grants.Level(ctx, userID, gatehouse.AdminRule)
	if err != nil {
		return false, &errors.Error{
			Code: errors.EInternal,
			Msg:  "permission store unavailable",
			Op:   "authorization.hasAdminGrant",
			Err:  err,
		}
	}

	value := []byte("0")
	if found {
		value = []byte("1")
	}
	if err := s.cache.Set(ctx, key, value, gatehouse.PermissionCacheTTL); err != nil {
		s.logger.Warn("failed to cache admin grant", zap.String("user_id", userID.String()), zap.Error(err))
	}

	return found, nil
}

func (s *Service) cachedLevel(ctx context.Context, userID uuid.UUID, rule string) (gatehouse.PermissionLevel, bool) {
	raw, ok, err := s.cache.Get(ctx, grantCacheKey(userID, rule))
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("permission cache read failed", zap.Error(err))
		}
		return gatehouse.LevelNone, false
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return gatehouse.LevelNone, false
	}
	return gatehouse.PermissionLevel(n), true
}

func (s *Service) cacheLevel(ctx context.Context, userID uuid.UUID, rule string, level gatehouse.PermissionLevel) {
	key := grantCacheKey(userID, rule)
	if err := s.cache.Set(ctx, key, []byte(strconv.Itoa(int(level))), gatehouse.PermissionCacheTTL); err != nil {
		s.logger.Warn("failed to cache permission level", zap.String("key", key), zap.Error(err))
	}
}

// invalidate drops the cached decision for (user, rule) and, for Admin rule
// mutations, the cached admin membership. It must succeed before a grant
// mutation returns; a stale cached allow is unacceptable.
func (s *Service) invalidate(ctx context.Context, userID uuid.UUID, rule string) error {
	if err := s.cache.Delete(ctx, grantCacheKey(userID, rule)); err != nil {
		return &errors.Error{
			Code: errors.EInternal,
			Msg:  "permission cache invalidation failed",
			Op:   "authorization.invalidate",
			Err:  err,
		}
	}
	if rule == gatehouse.AdminRule {
		if err := s.cache.Delete(ctx, adminCacheKey(userID)); err != nil {
			return &errors.Error{
				Code: errors.EInternal,
				Msg:  "permission cache invalidation failed",
				Op:   "authorization.invalidate",
				Err:  err,
			}
		}
	}
	return nil
}

// AssignGrant creates or updates a grant and synchronously invalidates the
// cached decision for the pair before returning.
func (s *Service) AssignGrant(ctx context.Context, g gatehouse.Grant) error {
	if g.UserID == uuid.Nil {
		return &errors.Error{Code: errors.EInvalid, Msg: "grant requires a user id"}
	}
	if g.Rule == "" {
		return &errors.Error{Code: errors.EInvalid, Msg: "grant requires a rule name"}
	}

	if err := s.grants.Assign(ctx, g); err != nil {
		return &errors.Error{
			Code: errors.EInternal,
			Msg:  "failed to assign grant",
			Op:   "authorization.AssignGrant",
			Err:  err,
		}
	}

	return s.invalidate(ctx, g.UserID, g.Rule)
}

// RemoveGrant deletes a grant and synchronously invalidates the cached
// decision for the pair before returning.
func (s *Service) RemoveGrant(ctx context.Context, userID uuid.UUID, rule string) error {
	if err := s.grants.Remove(ctx, userID, rule); err != nil {
		return &errors.Error{
			Code: errors.EInternal,
			Msg:  "failed to remove grant",
			Op:   "authorization.RemoveGrant",
			Err:  err,
		}
	}

	return s.invalidate(ctx, userID, rule)
}

// UserGrants lists the user's grants straight from the grant store.
func (s *Service) UserGrants(ctx context.Context, userID uuid.UUID) ([]gatehouse.Grant, error) {
	grants, err := s.grants.Grants(ctx, userID)
	if err != nil {
		return nil, &errors.Error{
			Code: errors.EInternal,
			Msg:  "failed to list grants",
			Op:   "authorization.UserGrants",
			Err:  err,
		}
	}
	return grants, nil
}
