// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — request id, logging и метрики, recovery, rate limit
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipelines и их версий
//   - run_handler.go      — обработчики для /runs
//   - schedule_handler.go — обработчики для /schedules
//
// Конфигурация версии проверяется engine.Validate при сохранении версии
// и ещё раз при создании run. Ошибки валидации возвращаются как 422.
package api
