package utils

import (
	"math"
)

// math.go - математические утилиты для арбитражной торговли
//
// Все функции являются чистыми (pure functions) без побочных эффектов.

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Если lotSize <= 0, возвращает исходное значение.
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}

// Spread возвращает относительный bid/ask спред: (ask - bid) / bid.
// Для некорректных котировок (bid <= 0) возвращает +Inf, чтобы такой
// инструмент гарантированно не прошёл фильтр ликвидности.
func Spread(bid, ask float64) float64 {
	if bid <= 0 {
		return math.Inf(1)
	}
	return (ask - bid) / bid
}

// MidPrice возвращает среднюю цену (bid + ask) / 2
func MidPrice(bid, ask float64) float64 {
	return (bid + ask) / 2
}

// PctChange возвращает относительное изменение (max - min) / min.
// При min <= 0 возвращает +Inf.
func PctChange(min, max float64) float64 {
	if min <= 0 {
		return math.Inf(1)
	}
	return (max - min) / min
}

// AlmostEqual сравнивает два float64 с допуском eps
func AlmostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}
