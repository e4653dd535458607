// Package executor выполняет один шаг pipeline.
//
// Порядок выполнения шага:
//
//  1. Загрузка data_sources и tool_references (tools.Fetcher)
//  2. Сборка user prompt (engine.Resolver)
//  3. Вызов модели с таймаутом шага
//  4. Расчёт стоимости (pricing.Calculator)
//  5. Запись StepRecord в хранилище
//
// Запись шага сохраняется до возврата из Execute, успешного или нет.
// Ошибка возвращается как *StepError с классом domain.ErrorKind,
// по которому оркестратор выбирает статус run.
package executor
