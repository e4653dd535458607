package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Analytica/internal/domain"
)

// ErrNoTrigger — у schedule нет ни cron_expr, ни interval_sec.
var ErrNoTrigger = errors.New("schedule has neither cron_expr nor interval_sec")

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время выполнения для schedule.
// Учитывает timezone schedule, результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	fromInTz := from.In(loc)

	switch {
	case sched.IsCron():
		return calculateNextCron(sched.CronExpr, fromInTz)
	case sched.IsInterval():
		return fromInTz.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil
	default:
		return time.Time{}, ErrNoTrigger
	}
}

func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from).UTC(), nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// ValidateTimezone проверяет, что timezone известен. Пустая строка — UTC.
func ValidateTimezone(tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return nil
}

// CalculateInitialNextDue вычисляет первое время выполнения для нового schedule.
func CalculateInitialNextDue(sched *domain.Schedule) (time.Time, error) {
	return CalculateNextDue(sched, time.Now())
}
