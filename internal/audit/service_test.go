package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubRepo struct {
	rows       []TimelineRow
	lastLimit  int
	lastOffset int
	lastAll    TimelineFilters
}

func (s *stubRepo) Window(_ context.Context, _ TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	s.lastLimit = limit
	s.lastOffset = offset
	if len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *stubRepo) All(_ context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	s.lastAll = filters
	return s.rows, nil
}

func mockRow(ts string, allowed bool) TimelineRow {
	at, _ := time.Parse(time.RFC3339, ts)
	return TimelineRow{
		At:      at,
		UserID:  uuid.New(),
		Code:    "stock.products.read",
		Allowed: allowed,
		Reason:  "Allowed by permission rules",
	}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		mockRow("2026-03-10T10:00:00Z", true),
		mockRow("2026-03-09T09:00:00Z", false),
		mockRow("2026-03-08T08:00:00Z", true),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext {
		t.Fatalf("expected hasNext true")
	}
	if result.Paging.NextPage != 2 {
		t.Fatalf("expected nextPage 2, got %d", result.Paging.NextPage)
	}
	if repo.lastLimit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastLimit)
	}
	if repo.lastOffset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastOffset)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 51 {
		t.Fatalf("expected clamped limit 51, got %d", repo.lastLimit)
	}
	if repo.lastOffset != 100 {
		t.Fatalf("expected offset 100, got %d", repo.lastOffset)
	}
}

func TestServiceExportReturnsAllRows(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		mockRow("2026-03-10T10:00:00Z", true),
		mockRow("2026-03-09T09:00:00Z", false),
	}}
	svc := NewService(repo)

	rows, err := svc.Export(context.Background(), TimelineFilters{Module: "stock"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if repo.lastAll.Module != "stock" {
		t.Fatalf("expected module filter passed through, got %q", repo.lastAll.Module)
	}
}

func TestCSVExport(t *testing.T) {
	row := mockRow("2026-03-10T10:00:00Z", false)
	row.Reason = "Denied by explicit deny rule"
	row.IP = "10.0.0.7"

	out, err := CSVExporter{}.WriteCSV([]TimelineRow{row})
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "checked_at,user_id,code,allowed") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "false,Denied by explicit deny rule") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
}
