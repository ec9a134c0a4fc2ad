package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type clientInfoKey struct{}

// ClientInfo identifies the caller of an audited operation.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// WithClientInfo attaches caller details that audit entries pick up.
func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, ClientInfo{IP: ip, UserAgent: userAgent})
}

// ClientInfoFrom returns the caller details attached by WithClientInfo.
func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info, ok
}

func clientInfo(ctx context.Context, fallback string) ClientInfo {
	if info, ok := ClientInfoFrom(ctx); ok {
		return info
	}
	return ClientInfo{IP: "system", UserAgent: fallback}
}

// emitAudit writes an audit entry. Failures are logged and never surface to the caller.
func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, source string, log *models.AuditLog) {
	if audit == nil || log == nil {
		return
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	info := clientInfo(ctx, source)
	log.IPAddress = info.IP
	log.UserAgent = info.UserAgent
	if err := audit.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("failed to write audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

func auditPayload(v interface{}) []byte {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
