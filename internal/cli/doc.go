// Package cli реализует инструмент командной строки Analytica.
//
// # Обзор
//
// CLI работает с Analytica API по HTTP. Из внутренних пакетов он
// использует только domain и engine: конфигурация pipeline читается из
// YAML/JSON файла и проверяется локально до отправки на сервер.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент API. Разбирает DataResponse, ListResponse и ErrorResponse.
// Ошибки сервера возвращаются как *APIError, для ошибок конфигурации
// в них заполнены step и field.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(cli.ListRunsOpts{Status: "RUNNING"})
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, сообщения в stderr:
//
//	analytica run list --json | jq .
//
// ## Commands
//
//   - pipeline: list, create, show, update, delete, versions, publish, validate
//   - run: list, start, show, steps
//   - schedule: list, create, show, update, delete, enable, disable
//
// Группы создаются фабриками (NewPipelineCmd и т.д.), которые принимают
// clientFn и outputFn и создают Client и Output после разбора флагов.
package cli
