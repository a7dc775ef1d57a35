// Package main provides a benchmark tool that samples the noise model
// in bulk and reports the resulting QBER distribution for quiet and
// adversary-active channels, so threshold drift is visible before it
// reaches the gate.
//
// Usage:
//
//	medivault-bench --trials 100000 --upload-threshold 5 --download-threshold 10
package main

import (
	"flag"
	"fmt"
	"math"
	"sort"

	"github.com/medivault/medivault/pkg/noise"
)

func main() {
	trials := flag.Int("trials", 100000, "Number of QBER samples per scenario")
	uploadThreshold := flag.Float64("upload-threshold", 5, "Doctor-side upload threshold (percent)")
	downloadThreshold := flag.Float64("download-threshold", 10, "Patient-side download threshold (percent)")
	flag.Parse()

	if *trials <= 0 {
		fmt.Println("Nothing to do: --trials must be positive")
		return
	}

	src := noise.NewSource()

	fmt.Printf("Medi-Vault Noise Benchmark\n")
	fmt.Printf("-----------------------------------\n")
	fmt.Printf("Trials:             %d per scenario\n", *trials)
	fmt.Printf("Upload threshold:   %.1f%%\n", *uploadThreshold)
	fmt.Printf("Download threshold: %.1f%%\n", *downloadThreshold)
	fmt.Printf("-----------------------------------\n\n")

	for _, scenario := range []struct {
		name      string
		adversary bool
	}{
		{"quiet channel", false},
		{"adversary active", true},
	} {
		amp := noise.Amplitude(scenario.adversary)
		qbers := make([]float64, *trials)
		for i := range qbers {
			qbers[i] = noise.QBER(src.Sample(amp))
		}
		report(scenario.name, qbers, *uploadThreshold, *downloadThreshold)
	}
}

func report(name string, qbers []float64, uploadThreshold, downloadThreshold float64) {
	sort.Float64s(qbers)

	var sum float64
	uploadBlocked, downloadBlocked := 0, 0
	for _, q := range qbers {
		sum += q
		if q >= uploadThreshold {
			uploadBlocked++
		}
		if q >= downloadThreshold {
			downloadBlocked++
		}
	}
	n := len(qbers)

	fmt.Printf("Scenario: %s\n", name)
	fmt.Printf("-----------------------------------\n")
	fmt.Printf("Mean QBER:          %.2f%%\n", sum/float64(n))
	fmt.Printf("P50:                %.2f%%\n", percentile(qbers, 50))
	fmt.Printf("P95:                %.2f%%\n", percentile(qbers, 95))
	fmt.Printf("P99:                %.2f%%\n", percentile(qbers, 99))
	fmt.Printf("Max:                %.2f%%\n", qbers[n-1])
	fmt.Printf("Uploads blocked:    %.2f%%\n", 100*float64(uploadBlocked)/float64(n))
	fmt.Printf("Downloads blocked:  %.2f%%\n", 100*float64(downloadBlocked)/float64(n))
	fmt.Printf("-----------------------------------\n\n")
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(pct)/100.0*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
