package engine

import (
	"sort"

	"github.com/shaiso/Analytica/internal/domain"
)

// Node — шаг pipeline в графе зависимостей.
type Node struct {
	// Step — определение шага.
	Step *domain.StepSpec

	// DependsOn — шаги, на выходы которых ссылается этот шаг
	// (токены шаблона и include_context).
	DependsOn []*Node

	// Dependents — шаги, которые ссылаются на этот шаг.
	Dependents []*Node
}

// Name возвращает имя шага.
func (n *Node) Name() string {
	return n.Step.StepName
}

// Graph — граф зависимостей шагов по данным.
//
// Шаги выполняются строго по order, граф нужен только для того,
// чтобы понять, какие шаги теряют смысл после ошибки другого шага.
type Graph struct {
	// Nodes — все узлы (step_name → Node).
	Nodes map[string]*Node

	// Order — узлы по возрастанию order.
	Order []*Node
}

// BuildGraph валидирует конфигурацию и строит граф.
func BuildGraph(cfg *domain.PipelineConfig) (*Graph, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	g := &Graph{
		Nodes: make(map[string]*Node, len(cfg.Steps)),
		Order: make([]*Node, 0, len(cfg.Steps)),
	}

	for i := range cfg.Steps {
		node := &Node{Step: &cfg.Steps[i]}
		g.Nodes[node.Name()] = node
		g.Order = append(g.Order, node)
	}

	sort.Slice(g.Order, func(i, j int) bool {
		return g.Order[i].Step.Order < g.Order[j].Step.Order
	})

	for _, node := range g.Order {
		for _, ref := range StepDependencies(node.Step) {
			// После Validate все ссылки существуют
			g.addEdge(g.Nodes[ref], node)
		}
	}

	return g, nil
}

// StepDependencies возвращает имена шагов, от выходов которых зависит шаг.
func StepDependencies(step *domain.StepSpec) []string {
	deps := ParseTemplate(step.UserPromptTemplate).StepReferences()
	if step.IncludeContext != nil {
		for _, name := range step.IncludeContext.Steps {
			deps = appendUnique(deps, name)
		}
	}
	return deps
}

// addEdge добавляет ребро между узлами, дубликаты игнорируются.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep == from {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
}

// BlockedBy возвращает первую зависимость шага из множества unavailable
// (упавшие или пропущенные шаги). ok=false — шаг можно выполнять.
func (g *Graph) BlockedBy(name string, unavailable map[string]bool) (string, bool) {
	node, exists := g.Nodes[name]
	if !exists {
		return "", false
	}
	for _, dep := range node.DependsOn {
		if unavailable[dep.Name()] {
			return dep.Name(), true
		}
	}
	return "", false
}

// Downstream возвращает все шаги, транзитивно зависящие от name, по order.
func (g *Graph) Downstream(name string) []string {
	start, exists := g.Nodes[name]
	if !exists {
		return nil
	}

	visited := make(map[string]bool)
	queue := []*Node{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, dep := range node.Dependents {
			if !visited[dep.Name()] {
				visited[dep.Name()] = true
				queue = append(queue, dep)
			}
		}
	}

	result := make([]string, 0, len(visited))
	for _, node := range g.Order {
		if visited[node.Name()] {
			result = append(result, node.Name())
		}
	}
	return result
}

// Size возвращает количество шагов.
func (g *Graph) Size() int {
	return len(g.Nodes)
}
