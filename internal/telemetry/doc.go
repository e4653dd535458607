// Package telemetry — общие для сервисов Analytica логи, метрики и трейсы.
//
// Логгер настраивается из LOG_LEVEL и LOG_FORMAT; логгер run или
// HTTP-запроса передаётся через context (WithLogger, FromContext).
// Метрики регистрируются в реестре по умолчанию и отдаются на /metrics.
// Трейсы пишут span на run, шаг, загрузку данных и вызов модели.
package telemetry
