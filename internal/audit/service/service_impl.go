package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/contentfin/internal/audit/domain"
	"github.com/smallbiznis/contentfin/internal/clock"
	obscontext "github.com/smallbiznis/contentfin/internal/observability/context"
	"github.com/smallbiznis/contentfin/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	if !entry.Action.Valid() {
		return auditdomain.ErrInvalidAction
	}
	table := strings.TrimSpace(entry.Table)
	if table == "" {
		return auditdomain.ErrInvalidTable
	}
	recordID := strings.TrimSpace(entry.RecordID)
	if recordID == "" {
		return auditdomain.ErrInvalidRecord
	}
	reason := strings.TrimSpace(entry.Reason)
	if reason == "" {
		return auditdomain.ErrMissingReason
	}

	changedBy := strings.TrimSpace(entry.ChangedBy)
	if changedBy == "" {
		if _, actorID := obscontext.ActorFromContext(ctx); actorID != "" {
			changedBy = actorID
		} else {
			changedBy = "system"
		}
	}

	row := auditdomain.AuditTrail{
		ID:        s.genID.Generate(),
		Table:     table,
		RecordID:  recordID,
		Action:    entry.Action,
		OldValues: toJSONMap(entry.OldValues),
		NewValues: toJSONMap(entry.NewValues),
		ChangedBy: changedBy,
		ChangedAt: s.clock.Now().UTC(),
		Reason:    reason,
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		row.RequestID = &requestID
	}

	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, &row); err != nil {
		s.log.Warn("failed to write audit trail",
			zap.String("table_name", table),
			zap.String("record_id", recordID),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}
	if action := strings.TrimSpace(req.Action); action != "" && !auditdomain.Action(strings.ToUpper(action)).Valid() {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidAction
	}

	var cursor *auditdomain.AuditCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: decoded.ID, ChangedAt: decoded.At}
	}

	pageSize := req.Limit(50, 250)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Table:     req.Table,
		RecordID:  req.RecordID,
		ChangedBy: req.ChangedBy,
		Action:    req.Action,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Page(items, pageSize, func(item *auditdomain.AuditTrail) pagination.Cursor {
		return pagination.Cursor{ID: item.ID, At: item.ChangedAt}
	})

	entries := make([]auditdomain.AuditTrail, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	return auditdomain.ListResponse{Entries: entries, PageInfo: pageInfo}, nil
}

func toJSONMap(values map[string]any) datatypes.JSONMap {
	if len(values) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(values))
	for key, value := range values {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out[key] = value
	}
	return out
}
