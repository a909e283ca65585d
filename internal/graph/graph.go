// Package graph - валютный граф и поиск отрицательных циклов.
// Вершины - валюты, рёбра - конвертации через торговые пары на биржах.
// Рёбра взвешены как -ln(gain): цикл с отрицательной суммой весов
// означает произведение gain > 1, то есть арбитраж.
package graph

import "math"

// Edge - конвертация единицы валюты From в Gain единиц валюты To
// на бирже Exchange через пару Pair
type Edge struct {
	From           int     // индекс вершины
	To             int     // индекс вершины
	Exchange       string
	Pair           string
	Side           string  // buy | sell
	Price          float64 // сырая цена из тикера
	EffectivePrice float64 // цена с учётом комиссии и проскальзывания
	Gain           float64 // единиц To за единицу From
	Weight         float64 // -ln(Gain)
}

// Graph - валютный граф с плотной индексацией вершин
type Graph struct {
	currencies []string
	index      map[string]int
	edges      []Edge
}

// New создает пустой граф
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Vertex возвращает индекс валюты, добавляя вершину при необходимости
func (g *Graph) Vertex(currency string) int {
	if i, ok := g.index[currency]; ok {
		return i
	}
	i := len(g.currencies)
	g.currencies = append(g.currencies, currency)
	g.index[currency] = i
	return i
}

// Lookup возвращает индекс валюты без добавления
func (g *Graph) Lookup(currency string) (int, bool) {
	i, ok := g.index[currency]
	return i, ok
}

// AddConversion добавляет ребро конвертации. Gain должен быть > 0.
func (g *Graph) AddConversion(e Edge) {
	if e.Gain <= 0 {
		return
	}
	e.Weight = -math.Log(e.Gain)
	g.edges = append(g.edges, e)
}

// VertexCount возвращает количество вершин
func (g *Graph) VertexCount() int { return len(g.currencies) }

// EdgeCount возвращает количество рёбер
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Currency возвращает код валюты по индексу вершины
func (g *Graph) Currency(i int) string { return g.currencies[i] }

// Edges возвращает все рёбра графа
func (g *Graph) Edges() []Edge { return g.edges }

// BestEdge возвращает ребро с максимальным gain между парой вершин.
// Вторым значением false, если рёбер между вершинами нет.
func (g *Graph) BestEdge(from, to int) (Edge, bool) {
	var best Edge
	found := false
	for _, e := range g.edges {
		if e.From != from || e.To != to {
			continue
		}
		if !found || e.Gain > best.Gain {
			best = e
			found = true
		}
	}
	return best, found
}
