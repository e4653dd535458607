package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage analysis pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineCreateCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineUpdateCmd(clientFn, outputFn),
		newPipelineDeleteCmd(clientFn, outputFn),
		newPipelineVersionsCmd(clientFn, outputFn),
		newPipelinePublishCmd(clientFn, outputFn),
		newPipelineValidateCmd(clientFn, outputFn),
	)

	return cmd
}

var pipelineHeaders = []string{"ID", "ORGANIZATION", "NAME", "ACTIVE", "CREATED"}

func pipelineRow(p *PipelineResponse) []string {
	return []string{p.ID, p.OrganizationID, p.Name, strconv.FormatBool(p.IsActive), p.CreatedAt}
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelines, err := clientFn().ListPipelines(orgID)
			if err != nil {
				return err
			}

			rows := make([][]string, len(pipelines))
			for i := range pipelines {
				rows[i] = pipelineRow(&pipelines[i])
			}

			outputFn().Print(pipelineHeaders, rows, pipelines)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Filter by organization ID")

	return cmd
}

func newPipelineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name, orgID, configFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pipeline, optionally publishing its first version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			// Конфигурация проверяется до создания pipeline, чтобы не оставлять
			// pipeline без версий.
			var config json.RawMessage
			if configFile != "" {
				_, raw, err := loadPipelineConfig(configFile)
				if err != nil {
					return err
				}
				config = raw
			}

			p, err := client.CreatePipeline(CreatePipelineRequest{OrganizationID: orgID, Name: name})
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Pipeline created: %s", p.ID))

			if config != nil {
				v, err := client.CreateVersion(p.ID, config)
				if err != nil {
					return fmt.Errorf("pipeline %s created but version was rejected: %w", p.ID, err)
				}
				out.Success(fmt.Sprintf("Version %d published", v.Version))
			}

			out.Print(pipelineHeaders, [][]string{pipelineRow(p)}, p)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Pipeline name (required)")
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVarP(&configFile, "file", "f", "", "Pipeline config file (YAML or JSON)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("org")

	return cmd
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := clientFn().GetPipeline(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(pipelineHeaders, [][]string{pipelineRow(p)}, p)
			return nil
		},
	}
}

func newPipelineUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Activate or deactivate a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("active") {
				return errors.New("nothing to update, use --active=true|false")
			}

			p, err := clientFn().SetPipelineActive(args[0], active)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success("Pipeline updated")
			out.Print(pipelineHeaders, [][]string{pipelineRow(p)}, p)
			return nil
		},
	}

	cmd.Flags().BoolVar(&active, "active", true, "Set active status")

	return cmd
}

func newPipelineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeletePipeline(args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Pipeline deleted: %s", args[0]))
			return nil
		},
	}
}

func newPipelineVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions PIPELINE_ID",
		Short: "List pipeline versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := clientFn().ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"PIPELINE_ID", "VERSION", "STEPS", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.PipelineID, strconv.Itoa(v.Version), strconv.Itoa(stepCount(v.Config)), v.CreatedAt}
			}

			outputFn().Print(headers, rows, versions)
			return nil
		},
	}
}

func newPipelinePublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "publish PIPELINE_ID",
		Short: "Publish a new pipeline version from a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, raw, err := loadPipelineConfig(configFile)
			if err != nil {
				return err
			}

			v, err := clientFn().CreateVersion(args[0], raw)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Version %d published for pipeline %s", v.Version, v.PipelineID))
			out.Print(
				[]string{"PIPELINE_ID", "VERSION", "STEPS", "CREATED"},
				[][]string{{v.PipelineID, strconv.Itoa(v.Version), strconv.Itoa(stepCount(v.Config)), v.CreatedAt}},
				v,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "file", "f", "", "Pipeline config file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newPipelineValidateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var configFile string
	var remote bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline config file without saving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			cfg, raw, err := loadPipelineConfig(configFile)
			if err != nil {
				return err
			}

			if remote {
				if _, err := clientFn().ValidateConfig(raw); err != nil {
					return err
				}
			}

			out.Success(fmt.Sprintf("Config is valid: %d steps", len(cfg.Steps)))
			headers := []string{"ORDER", "STEP", "MODEL", "DEPENDS_ON"}
			rows := make([][]string, len(cfg.Steps))
			for i := range cfg.Steps {
				s := &cfg.Steps[i]
				rows[i] = []string{strconv.Itoa(s.Order), s.StepName, s.Model, fmt.Sprint(engine.StepDependencies(s))}
			}
			out.Print(headers, rows, cfg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "file", "f", "", "Pipeline config file (required)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Also validate on the API server")
	cmd.MarkFlagRequired("file")

	return cmd
}

// loadPipelineConfig читает YAML/JSON файл, проверяет его локально и
// возвращает конфигурацию вместе с её JSON-представлением для API.
func loadPipelineConfig(path string) (*domain.PipelineConfig, json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodePipelineConfig(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := engine.Validate(cfg); err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return cfg, raw, nil
}

// decodePipelineConfig разбирает YAML (JSON — его подмножество).
// Неизвестные поля считаются ошибкой.
func decodePipelineConfig(data []byte) (*domain.PipelineConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg domain.PipelineConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config file is empty")
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func stepCount(config map[string]any) int {
	steps, _ := config["steps"].([]any)
	return len(steps)
}
