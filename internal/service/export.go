package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"academy-ledger/internal/domain"
)

type ExportService struct {
	cache ExportCache
	now   func() time.Time
}

func NewExportService(cache ExportCache) *ExportService {
	return &ExportService{cache: cache, now: time.Now}
}

func (s *ExportService) GetExports(ctx context.Context, tenantID string, userID int64) ([]map[string]any, error) {
	if s.cache == nil {
		return nil, errors.New("redis client not configured")
	}

	keys, err := s.cache.SMembers(ctx, exportSetKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	var statuses []ExportStatus
	for _, key := range keys {
		st, err := s.load(ctx, key)
		if err != nil {
			continue
		}
		if st.TenantID == tenantID && st.UserID == userID {
			statuses = append(statuses, st)
		}
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})

	exports := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		exports = append(exports, s.exportMap(st))
	}
	return exports, nil
}

func (s *ExportService) GetExport(ctx context.Context, tenantID, exportID string, userID int64) (map[string]any, error) {
	if s.cache == nil {
		return nil, errors.New("redis client not configured")
	}

	st, err := s.load(ctx, exportID)
	if err != nil || st.TenantID != tenantID || st.UserID != userID {
		return nil, domain.Errorf(domain.ErrExportNotFound, "export %s not found", exportID)
	}
	return s.exportMap(st), nil
}

func (s *ExportService) load(ctx context.Context, key string) (ExportStatus, error) {
	var st ExportStatus
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return st, fmt.Errorf("failed to parse export status: %w", err)
	}
	return st, nil
}

func (s *ExportService) exportMap(st ExportStatus) map[string]any {
	m := map[string]any{
		"key":        st.Key,
		"type":       st.Type,
		"user_id":    st.UserID,
		"progress":   st.Progress,
		"file_url":   st.FileURL,
		"filters":    st.Filters,
		"created_at": humanizeAgo(st.Created, s.now()),
	}
	if st.Error != nil {
		m["error"] = *st.Error
	}
	return m
}

func humanizeAgo(t, now time.Time) string {
	if t.After(now) {
		return "just now"
	}

	minutes := int(now.Sub(t).Minutes())
	if minutes < 1 {
		return "just now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d %s ago", minutes, plural(minutes, "minute", "minutes"))
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%d %s ago", hours, plural(hours, "hour", "hours"))
	}
	days := hours / 24
	if days < 30 {
		return fmt.Sprintf("%d %s ago", days, plural(days, "day", "days"))
	}
	return t.Format("2006-01-02 15:04")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
