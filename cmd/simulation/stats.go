package main

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// passStats tracks how long keeper passes take
type passStats struct {
	name      string
	durations []time.Duration
}

func (ps *passStats) add(d time.Duration) {
	ps.durations = append(ps.durations, d)
}

// calculate computes min, max, mean, median, 95th and 99th percentile durations
func (ps *passStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(ps.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), ps.durations...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95 = sorted[int(math.Ceil(float64(len(sorted))*0.95))-1]
	p99 = sorted[int(math.Ceil(float64(len(sorted))*0.99))-1]
	return
}

func (ps *passStats) print() {
	min, max, mean, median, p95, p99 := ps.calculate()

	fmt.Println("\nKeeper Performance")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s\n",
		"Job", "Passes", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10d %10s %10s %10s %10s %10s %10s\n",
		ps.name,
		len(ps.durations),
		min.Round(time.Microsecond),
		max.Round(time.Microsecond),
		mean.Round(time.Microsecond),
		median.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond))
	fmt.Println(strings.Repeat("-", 100))
}

// priceWalk is a seeded random walk moving at most 1% per tick
type priceWalk struct {
	price uint64
	rng   *rand.Rand
}

func newPriceWalk(start uint64, seed int64) *priceWalk {
	return &priceWalk{price: start, rng: rand.New(rand.NewSource(seed))}
}

func (w *priceWalk) next() uint64 {
	move := (w.rng.Float64()*2 - 1) * 0.01
	w.price = uint64(float64(w.price) * (1 + move))
	if w.price == 0 {
		w.price = 1
	}
	return w.price
}
