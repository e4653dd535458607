// Analytica CLI — инструмент командной строки для управления
// pipelines, runs и schedules через HTTP API.
//
// Использование:
//
//	analytica [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	pipeline  Управление pipelines и их версиями
//	run       Запуск runs и просмотр результатов шагов
//	schedule  Управление schedules
//	env       Переменные окружения сервисов
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Analytica/internal/cli"
	"github.com/shaiso/Analytica/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "analytica",
		Short:         "Analytica CLI — LLM market analysis pipelines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("ANALYTICA_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewPipelineCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
		&cobra.Command{
			Use:   "env",
			Short: "Print environment variables used by Analytica services",
			RunE: func(cmd *cobra.Command, args []string) error {
				return config.Usage()
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
