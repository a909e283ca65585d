// Package detector - сканер арбитражных возможностей: строит валютный
// граф по кэшу рыночных данных, ищет циклы и фильтрует их по прибыли,
// волатильности и ликвидности.
package detector

import (
	"sync"
	"time"

	"cryptoarb/pkg/utils"
)

type pricePoint struct {
	mid float64
	ts  time.Time
}

// PriceHistory хранит скользящее окно средней по биржам цены каждой
// пары для оценки краткосрочной волатильности
type PriceHistory struct {
	mu     sync.RWMutex
	window time.Duration
	points map[string][]pricePoint // ключ - пара
}

// NewPriceHistory создает историю с заданным окном хранения
func NewPriceHistory(window time.Duration) *PriceHistory {
	return &PriceHistory{
		window: window,
		points: make(map[string][]pricePoint),
	}
}

// Record добавляет усреднённую по биржам цену пары и отбрасывает
// точки старше окна
func (h *PriceHistory) Record(pair string, mid float64, ts time.Time) {
	if mid <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	points := append(h.points[pair], pricePoint{mid: mid, ts: ts})

	cutoff := ts.Add(-h.window)
	start := 0
	for start < len(points) && points[start].ts.Before(cutoff) {
		start++
	}
	h.points[pair] = points[start:]
}

// Volatility возвращает (max-min)/min средних цен пары в окне.
// Для пустой или одноточечной истории волатильность нулевая:
// отсутствие данных не должно блокировать свежелистингованные пары.
func (h *PriceHistory) Volatility(pair string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	points := h.points[pair]
	if len(points) < 2 {
		return 0
	}

	minP, maxP := points[0].mid, points[0].mid
	for _, p := range points[1:] {
		if p.mid < minP {
			minP = p.mid
		}
		if p.mid > maxP {
			maxP = p.mid
		}
	}
	// mid > 0 гарантирован в Record
	return utils.PctChange(minP, maxP)
}

// Len возвращает количество точек пары
func (h *PriceHistory) Len(pair string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points[pair])
}
