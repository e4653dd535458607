package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunStepsCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "PIPELINE_ID", "VERSION", "INSTRUMENT", "TIMEFRAME", "STATUS", "COST", "CREATED"}

func runRow(r *RunResponse) []string {
	return []string{
		r.ID, r.PipelineID, strconv.Itoa(r.Version), r.Instrument, r.Timeframe,
		r.Status, formatCost(r.CostEstTotal), r.CreatedAt,
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i := range runs {
				rows[i] = runRow(&runs[i])
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (QUEUED, RUNNING, SUCCEEDED, FAILED, MODEL_FAILURE)")
	cmd.Flags().StringVar(&opts.Instrument, "instrument", "", "Filter by instrument")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int
	var req CreateRunRequest
	var wait bool
	var pollEvery time.Duration

	cmd := &cobra.Command{
		Use:   "start PIPELINE_ID",
		Short: "Queue a new analysis run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if cmd.Flags().Changed("version") {
				req.Version = &version
			}

			run, err := client.CreateRun(args[0], req)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run queued: %s", run.ID))

			if wait {
				run, err = waitForRun(cmd, client, run.ID, pollEvery)
				if err != nil {
					return err
				}
			}

			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Instrument, "instrument", "", "Instrument, e.g. BTCUSDT (required)")
	cmd.Flags().StringVar(&req.Timeframe, "timeframe", "", "Timeframe, e.g. 4h (required)")
	cmd.Flags().IntVar(&version, "version", 0, "Pipeline version (latest if not specified)")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Idempotency key")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the run finishes")
	cmd.Flags().DurationVar(&pollEvery, "poll-interval", 2*time.Second, "Polling interval for --wait")
	cmd.MarkFlagRequired("instrument")
	cmd.MarkFlagRequired("timeframe")

	return cmd
}

// waitForRun опрашивает run до терминального статуса или отмены команды.
func waitForRun(cmd *cobra.Command, client *Client, id string, every time.Duration) (*RunResponse, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		run, err := client.GetRun(id)
		if err != nil {
			return nil, err
		}
		if isTerminal(run.Status) {
			return run, nil
		}

		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "SUCCEEDED", "FAILED", "MODEL_FAILURE":
		return true
	}
	return false
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(
				append(runHeaders, "ERROR"),
				[][]string{append(runRow(run), run.Error)},
				run,
			)
			return nil
		},
	}
}

func newRunStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "steps RUN_ID",
		Short: "List step records of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := clientFn().ListSteps(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			headers := []string{"ORDER", "STEP", "STATUS", "MODEL", "TOKENS_IN", "TOKENS_OUT", "COST", "ERROR"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				errText := s.Error
				if s.ErrorKind != "" {
					errText = s.ErrorKind + ": " + errText
				}
				rows[i] = []string{
					strconv.Itoa(s.StepOrder), s.StepName, s.Status, s.Model,
					strconv.Itoa(s.InputTokens), strconv.Itoa(s.OutputTokens),
					formatCost(s.CostEst), errText,
				}
			}
			out.Print(headers, rows, steps)

			if showOutput {
				for _, s := range steps {
					out.Section(s.StepName, s.OutputBlob)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showOutput, "output", false, "Print step outputs after the table")

	return cmd
}

func formatCost(c float64) string {
	return strconv.FormatFloat(c, 'f', 4, 64)
}
