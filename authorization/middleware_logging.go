package authorization

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
)

// AuthLogger is a logging service middleware for the permission service.
type AuthLogger struct {
	logger            *zap.Logger
	permissionService gatehouse.PermissionService
}

// NewAuthLogger returns a logging service middleware for the permission service.
func NewAuthLogger(log *zap.Logger, s gatehouse.PermissionService) *AuthLogger {
	return &AuthLogger{
		logger:            log,
		permissionService: s,
	}
}

var _ gatehouse.PermissionService = (*AuthLogger)(nil)

func (l *AuthLogger) HasPermission(ctx context.Context, userID uuid.UUID, rule string, required gatehouse.PermissionLevel) (allowed bool, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to evaluate permission", zap.Error(err), dur)
			return
		}
		l.logger.Debug("permission evaluated", zap.Bool("allowed", allowed), dur)
	}(time.Now())
	return l.permissionService.HasPermission(ctx, userID, rule, required)
}

func (l *AuthLogger) AssignGrant(ctx context.Context, g gatehouse.Grant) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to assign grant", zap.Error(err), dur)
			return
		}
		l.logger.Debug("grant assigned", dur)
	}(time.Now())
	return l.permissionService.AssignGrant(ctx, g)
}

func (l *AuthLogger) RemoveGrant(ctx context.Context, userID uuid.UUID, rule string) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to remove grant", zap.Error(err), dur)
			return
		}
		l.logger.Debug("grant removed", dur)
	}(time.Now())
	return l.permissionService.RemoveGrant(ctx, userID, rule)
}

func (l *AuthLogger) UserGrants(ctx context.Context, userID uuid.UUID) (grants []gatehouse.Grant, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list grants", zap.Error(err), dur)
			return
		}
		l.logger.Debug("grants listed", zap.Int("count", len(grants)), dur)
	}(time.Now())
	return l.permissionService.UserGrants(ctx, userID)
}
