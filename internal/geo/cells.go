package geo

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
)

const (
	metersPerDegree = 111320.0
	// запас на отличие haversine от равнопромежуточной проекции
	cellMargin = 1.5
	// выше этой широты строка сетки - одна ячейка
	polarLatitude = 89.0
)

// LockKeys возвращает ключи advisory-блокировок для окрестности точки.
//
// Сетка строится отдельно для каждой категории с шагом не меньше radius.
// Точка занимает свою ячейку и соседние (3x3 с учетом разной ширины строк),
// поэтому два отчета на расстоянии <= radius всегда делят хотя бы одну ячейку.
// Ключи отсортированы, чтобы блокировки брались в одном порядке.
func LockKeys(category string, lat, lon, radiusMeters float64) []int64 {
	if radiusMeters <= 0 {
		radiusMeters = 1
	}
	rowHeight := radiusMeters * cellMargin / metersPerDegree
	rowCount := int(math.Ceil(180 / rowHeight))
	row := int(math.Floor((lat + 90) / rowHeight))
	if row >= rowCount {
		row = rowCount - 1
	}

	seen := make(map[int64]struct{}, 9)
	keys := make([]int64, 0, 9)
	for r := row - 1; r <= row+1; r++ {
		if r < 0 || r >= rowCount {
			continue
		}
		n := lonCells(r, rowHeight, radiusMeters)
		width := 360 / float64(n)
		col := int(math.Floor((lon+180)/width)) % n
		for c := col - 1; c <= col+1; c++ {
			k := cellKey(category, r, ((c%n)+n)%n)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// lonCells - число ячеек в строке сетки. Ширина считается по краю строки,
// ближнему к полюсу, где градус долготы короче всего.
func lonCells(row int, rowHeight, radiusMeters float64) int {
	south := -90 + float64(row)*rowHeight
	north := south + rowHeight
	edge := math.Max(math.Abs(south), math.Abs(north))
	if edge >= polarLatitude {
		return 1
	}
	width := radiusMeters * cellMargin / (metersPerDegree * math.Cos(edge*math.Pi/180))
	n := int(math.Floor(360 / width))
	if n < 1 {
		return 1
	}
	return n
}

func cellKey(category string, row, col int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d:%d", category, row, col)
	return int64(h.Sum64())
}
