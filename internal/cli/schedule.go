package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shaiso/Analytica/internal/scheduler"
)

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring runs of a pipeline",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleToggleCmd(clientFn, outputFn, true),
		newScheduleToggleCmd(clientFn, outputFn, false),
	)

	return cmd
}

// scheduleFlags — общие флаги create и update.
type scheduleFlags struct {
	name       string
	instrument string
	timeframe  string
	cron       string
	every      time.Duration
	timezone   string
}

func (f *scheduleFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "Schedule name")
	fs.StringVar(&f.instrument, "instrument", "", "Instrument, e.g. BTCUSDT")
	fs.StringVar(&f.timeframe, "timeframe", "", "Timeframe, e.g. 1d")
	fs.StringVar(&f.cron, "cron", "", "Cron expression, e.g. '0 9 * * *'")
	fs.DurationVar(&f.every, "every", 0, "Fixed interval instead of cron, e.g. 4h")
	fs.StringVar(&f.timezone, "timezone", "", "IANA timezone for cron, e.g. Europe/Moscow")
}

// check ловит ошибки триггера до похода в API.
func (f *scheduleFlags) check() error {
	if f.cron != "" {
		if err := scheduler.ValidateCronExpr(f.cron); err != nil {
			return err
		}
	}
	if f.every != 0 && f.every < time.Second {
		return fmt.Errorf("--every must be at least 1s, got %s", f.every)
	}
	return scheduler.ValidateTimezone(f.timezone)
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListSchedulesOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(schedules))
			for i := range schedules {
				rows[i] = scheduleRow(&schedules[i])
			}
			outputFn().Print(scheduleHeaders, rows, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&opts.Instrument, "instrument", "", "Filter by instrument")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var f scheduleFlags
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create PIPELINE_ID",
		Short: "Schedule the latest version of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.cron == "" && f.every == 0 {
				return fmt.Errorf("one of --cron or --every is required")
			}
			if err := f.check(); err != nil {
				return err
			}

			schedule, err := clientFn().CreateSchedule(args[0], CreateScheduleRequest{
				Name:        f.name,
				Instrument:  f.instrument,
				Timeframe:   f.timeframe,
				CronExpr:    f.cron,
				IntervalSec: int(f.every / time.Second),
				Timezone:    f.timezone,
				Enabled:     !disabled,
			})
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Schedule created: %s (next run %s)", schedule.ID, schedule.NextDueAt))
			out.Print(scheduleHeaders, [][]string{scheduleRow(schedule)}, schedule)
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.MarkFlagRequired("instrument")
	cmd.MarkFlagRequired("timeframe")
	cmd.MarkFlagsMutuallyExclusive("cron", "every")

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := clientFn().GetSchedule(args[0])
			if err != nil {
				return err
			}

			headers := append(append([]string{}, scheduleHeaders...), "TIMEZONE", "LAST_RUN_ID", "LAST_RUN_AT")
			row := append(scheduleRow(s), s.Timezone, s.LastRunID, s.LastRunAt)
			outputFn().Print(headers, [][]string{row}, s)
			return nil
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a schedule; only the given flags are sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.check(); err != nil {
				return err
			}

			changed := cmd.Flags().Changed
			var req UpdateScheduleRequest
			if changed("name") {
				req.Name = &f.name
			}
			if changed("instrument") {
				req.Instrument = &f.instrument
			}
			if changed("timeframe") {
				req.Timeframe = &f.timeframe
			}
			if changed("cron") {
				req.CronExpr = &f.cron
			}
			if changed("every") {
				sec := int(f.every / time.Second)
				req.IntervalSec = &sec
			}
			if changed("timezone") {
				req.Timezone = &f.timezone
			}

			schedule, err := clientFn().UpdateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success("Schedule updated")
			out.Print(scheduleHeaders, [][]string{scheduleRow(schedule)}, schedule)
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("cron", "every")

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

// newScheduleToggleCmd создаёт "enable" или "disable".
func newScheduleToggleCmd(clientFn func() *Client, outputFn func() *Output, enable bool) *cobra.Command {
	verb, short := "disable", "Stop creating runs from a schedule"
	if enable {
		verb, short = "enable", "Resume creating runs from a schedule"
	}

	return &cobra.Command{
		Use:   verb + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := clientFn().SetScheduleEnabled(args[0], enable); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule %sd: %s", verb, args[0]))
			return nil
		},
	}
}

var scheduleHeaders = []string{"ID", "PIPELINE_ID", "NAME", "INSTRUMENT", "TIMEFRAME", "TRIGGER", "ENABLED", "NEXT_DUE"}

func scheduleRow(s *ScheduleResponse) []string {
	return []string{
		s.ID, s.PipelineID, s.Name, s.Instrument, s.Timeframe,
		scheduleTrigger(s), strconv.FormatBool(s.Enabled), s.NextDueAt,
	}
}

// scheduleTrigger: "cron 0 9 * * * (Europe/Moscow)" или "every 4h0m0s".
func scheduleTrigger(s *ScheduleResponse) string {
	switch {
	case s.CronExpr != "":
		tz := s.Timezone
		if tz == "" {
			tz = "UTC"
		}
		return fmt.Sprintf("cron %s (%s)", s.CronExpr, tz)
	case s.IntervalSec > 0:
		return "every " + (time.Duration(s.IntervalSec) * time.Second).String()
	default:
		return ""
	}
}
