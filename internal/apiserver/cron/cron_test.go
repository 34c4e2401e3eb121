package cron

import (
	"testing"
	"time"
)

func at(value string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"字段数不足", "0 3 * *"},
		{"分钟越界", "60 * * * *"},
		{"月份越界", "0 0 1 13 *"},
		{"非法步长", "*/0 * * * *"},
		{"非法区间", "5-2 * * * *"},
		{"非数字", "a * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.expr); err == nil {
				t.Errorf("expected error for %q", tt.expr)
			}
		})
	}
}

func TestSchedule_Matches(t *testing.T) {
	tests := []struct {
		name string
		expr string
		time string
		want bool
	}{
		{"每天凌晨三点_命中", "0 3 * * *", "2026-08-29 03:00", true},
		{"每天凌晨三点_不命中", "0 3 * * *", "2026-08-29 03:01", false},
		{"每十五分钟", "*/15 * * * *", "2026-08-29 10:45", true},
		{"每十五分钟_不命中", "*/15 * * * *", "2026-08-29 10:46", false},
		{"列表", "0,30 9 * * *", "2026-08-29 09:30", true},
		{"区间", "0 9-17 * * *", "2026-08-29 13:00", true},
		{"区间_不命中", "0 9-17 * * *", "2026-08-29 18:00", false},
		// 2026-08-29 是周六 (weekday=6)
		{"按周触发_命中", "0 6 * * 6", "2026-08-29 06:00", true},
		{"按周触发_不命中", "0 6 * * 1", "2026-08-29 06:00", false},
		{"按月日触发", "0 0 1 * *", "2026-09-01 00:00", true},
		{"指定月份", "0 0 * 12 *", "2026-08-29 00:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.expr, err)
			}
			if got := s.Matches(at(tt.time)); got != tt.want {
				t.Errorf("Matches(%s) for %q = %v, want %v", tt.time, tt.expr, got, tt.want)
			}
		})
	}
}

func TestSchedule_DayWeekdayUnion(t *testing.T) {
	// 日和周都受限时按或处理：1 号或周一都命中
	s, err := Parse("0 0 1 * 1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// 2026-08-31 是周一
	if !s.Matches(at("2026-08-31 00:00")) {
		t.Error("expected match on Monday")
	}
	// 2026-09-01 是 1 号（周二）
	if !s.Matches(at("2026-09-01 00:00")) {
		t.Error("expected match on the 1st")
	}
	// 2026-09-02 既不是 1 号也不是周一
	if s.Matches(at("2026-09-02 00:00")) {
		t.Error("expected no match")
	}
}
