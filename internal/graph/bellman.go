package graph

import (
	"math"
	"sort"
	"strings"
)

// Cycle - замкнутая цепочка конвертаций с суммарным gain > 1
type Cycle struct {
	Currencies   []string // последовательность валют, без замыкающего повтора
	Edges        []Edge   // рёбра цикла в порядке обхода
	Gain         float64  // произведение gain рёбер
	ProfitMargin float64  // Gain - 1
}

// FindCycles ищет отрицательные циклы алгоритмом Беллмана-Форда.
// Запуск повторяется от каждой вершины: один запуск находит только
// циклы, достижимые из источника. Дубликаты отсеиваются канонизацией
// цикла поворотом к минимальной валюте.
func FindCycles(g *Graph) []*Cycle {
	n := g.VertexCount()
	if n == 0 {
		return nil
	}

	// Между парой вершин оставляем ребро с минимальным весом:
	// остальные не могут участвовать в оптимальном цикле
	relaxEdges := bestEdgeSet(g)

	seen := make(map[string]bool)
	var cycles []*Cycle

	for source := 0; source < n; source++ {
		dist := make([]float64, n)
		pred := make([]int, n) // индекс ребра, приведшего в вершину
		for i := range dist {
			dist[i] = math.Inf(1)
			pred[i] = -1
		}
		dist[source] = 0

		// |V|-1 раундов релаксации
		for round := 0; round < n-1; round++ {
			changed := false
			for idx, e := range relaxEdges {
				if dist[e.From]+e.Weight < dist[e.To] {
					dist[e.To] = dist[e.From] + e.Weight
					pred[e.To] = idx
					changed = true
				}
			}
			if !changed {
				break
			}
		}

		// Раунд |V|: улучшение означает отрицательный цикл
		for idx, e := range relaxEdges {
			if dist[e.From]+e.Weight >= dist[e.To] {
				continue
			}
			pred[e.To] = idx

			cycle := extractCycle(relaxEdges, pred, e.To, n)
			if cycle == nil {
				continue
			}

			canonical := rotateToMin(cycle)
			key := cycleKey(g, canonical)
			if seen[key] {
				continue
			}
			seen[key] = true

			if c := buildCycle(g, canonical); c != nil {
				cycles = append(cycles, c)
			}
		}
	}

	// Стабильный порядок: сначала самые прибыльные
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].Gain > cycles[j].Gain
	})
	return cycles
}

// extractCycle возвращает последовательность вершин цикла,
// в который ведёт цепочка предшественников вершины start
func extractCycle(edges []Edge, pred []int, start, n int) []int {
	// |V| шагов назад гарантированно приводят внутрь цикла
	v := start
	for i := 0; i < n; i++ {
		if pred[v] == -1 {
			return nil
		}
		v = edges[pred[v]].From
	}

	var cycle []int
	visited := make(map[int]bool)
	for !visited[v] {
		visited[v] = true
		cycle = append(cycle, v)
		if pred[v] == -1 {
			return nil
		}
		v = edges[pred[v]].From
	}

	// Разворачиваем: pred-обход идёт против направления рёбер
	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}

// rotateToMin поворачивает цикл к минимальному индексу вершины
func rotateToMin(cycle []int) []int {
	minPos := 0
	for i, v := range cycle {
		if v < cycle[minPos] {
			minPos = i
		}
	}
	rotated := make([]int, 0, len(cycle))
	rotated = append(rotated, cycle[minPos:]...)
	rotated = append(rotated, cycle[:minPos]...)
	return rotated
}

func cycleKey(g *Graph, cycle []int) string {
	parts := make([]string, len(cycle))
	for i, v := range cycle {
		parts[i] = g.Currency(v)
	}
	return strings.Join(parts, ">")
}

// buildCycle собирает итоговый цикл, заново выбирая лучшее ребро
// на каждом шаге, и проверяет фактическую прибыльность произведения
func buildCycle(g *Graph, cycle []int) *Cycle {
	k := len(cycle)
	if k < 2 {
		return nil
	}

	currencies := make([]string, k)
	edges := make([]Edge, 0, k)
	gain := 1.0

	for i := 0; i < k; i++ {
		currencies[i] = g.Currency(cycle[i])
		from := cycle[i]
		to := cycle[(i+1)%k]
		e, ok := g.BestEdge(from, to)
		if !ok {
			return nil
		}
		edges = append(edges, e)
		gain *= e.Gain
	}

	if gain <= 1 {
		return nil
	}

	return &Cycle{
		Currencies:   currencies,
		Edges:        edges,
		Gain:         gain,
		ProfitMargin: gain - 1,
	}
}

// bestEdgeSet оставляет по одному ребру минимального веса на пару вершин
func bestEdgeSet(g *Graph) []Edge {
	type key struct{ from, to int }
	best := make(map[key]Edge)
	for _, e := range g.Edges() {
		k := key{e.From, e.To}
		if cur, ok := best[k]; !ok || e.Weight < cur.Weight {
			best[k] = e
		}
	}
	out := make([]Edge, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	// Детерминированный порядок обхода рёбер
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
