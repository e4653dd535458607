// Package engine содержит модель конфигурации pipeline и сборку prompt.
//
// Включает:
//   - validate.go — валидация PipelineConfig до создания run
//   - template.go — AST шаблона prompt ({step_output}, {instrument})
//   - context.go  — подстановка выходов шагов и блоков include_context
//   - dag.go      — граф зависимостей шагов по данным
//
// Engine не выполняет сетевых вызовов и не пишет в БД.
package engine
