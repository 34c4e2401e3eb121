// Package cron 定时触发器
//
// 解析标准 5 字段 cron 表达式（分 时 日 月 周）并按分钟粒度匹配。
// 支持 *、*/n、逗号列表、区间 a-b 以及区间步长 a-b/n。
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule 解析后的 cron 表达式
type Schedule struct {
	minute  map[int]bool
	hour    map[int]bool
	day     map[int]bool
	month   map[int]bool
	weekday map[int]bool
}

// 各字段取值范围
var fieldRanges = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week (0 = Sunday)
}

// Parse 解析 5 字段 cron 表达式
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	sets := make([]map[int]bool, 5)
	for i, field := range fields {
		set, err := parseField(field, fieldRanges[i][0], fieldRanges[i][1])
		if err != nil {
			return nil, fmt.Errorf("field %d (%s): %w", i+1, field, err)
		}
		sets[i] = set
	}

	return &Schedule{
		minute:  sets[0],
		hour:    sets[1],
		day:     sets[2],
		month:   sets[3],
		weekday: sets[4],
	}, nil
}

// Matches 判断时刻是否命中表达式（分钟粒度）
//
// 日和周字段都受限时按标准 cron 语义取或。
func (s *Schedule) Matches(t time.Time) bool {
	if !s.minute[t.Minute()] || !s.hour[t.Hour()] || !s.month[int(t.Month())] {
		return false
	}

	dayRestricted := len(s.day) != fieldRanges[2][1]-fieldRanges[2][0]+1
	weekdayRestricted := len(s.weekday) != fieldRanges[4][1]-fieldRanges[4][0]+1

	dayOK := s.day[t.Day()]
	weekdayOK := s.weekday[int(t.Weekday())]

	if dayRestricted && weekdayRestricted {
		return dayOK || weekdayOK
	}
	return dayOK && weekdayOK
}

// parseField 解析单个字段为取值集合
func parseField(field string, min, max int) (map[int]bool, error) {
	set := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		// 步长
		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", part[idx+1:])
			}
			step = n
			part = part[:idx]
		}

		switch {
		case part == "*":
			// 全范围
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			var err1, err2 error
			lo, err1 = strconv.Atoi(bounds[0])
			hi, err2 = strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("invalid range %q", part)
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			lo, hi = n, n
		}

		if lo < min || hi > max || lo > hi {
			return nil, fmt.Errorf("value out of range [%d,%d]: %q", min, max, part)
		}

		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}

	return set, nil
}
