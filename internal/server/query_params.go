package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const dateOnlyLayout = "2006-01-02"

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid_snowflake_id")
	}
	return parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := parseSnowflakeID(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

func parseSlotNumber(value string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.New("invalid_slot")
	}
	return parsed, nil
}

// parsePeriod resolves an optional month/year pair, defaulting to the
// current UTC period when both are absent.
func parsePeriod(monthValue, yearValue string, now time.Time) (int, int, error) {
	monthValue = strings.TrimSpace(monthValue)
	yearValue = strings.TrimSpace(yearValue)

	if monthValue == "" && yearValue == "" {
		now = now.UTC()
		return int(now.Month()), now.Year(), nil
	}

	month, err := strconv.Atoi(monthValue)
	if err != nil {
		return 0, 0, errors.New("invalid_month")
	}
	year, err := strconv.Atoi(yearValue)
	if err != nil {
		return 0, 0, errors.New("invalid_year")
	}
	return month, year, nil
}
