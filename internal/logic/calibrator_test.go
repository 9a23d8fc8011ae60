package logic

import "testing"

func TestCalibrationBaseline(t *testing.T) {
	var c Calibration
	for _, r := range []int{1000, 1010, 990, 1000} {
		c.Add(r)
	}

	b := c.Baseline(2500)
	if b.Mean != 1000 {
		t.Errorf("mean: got %d, want 1000", b.Mean)
	}
	if b.Threshold != 3500 {
		t.Errorf("threshold: got %d, want 3500", b.Threshold)
	}
	if b.Samples != 4 {
		t.Errorf("samples: got %d, want 4", b.Samples)
	}
	if b.Degenerate {
		t.Error("varying readings should not be degenerate")
	}
}

func TestCalibrationStuckSensor(t *testing.T) {
	var c Calibration
	for i := 0; i < 100; i++ {
		c.Add(4095)
	}

	b := c.Baseline(2500)
	if !b.Degenerate {
		t.Error("identical readings should be flagged degenerate")
	}
	// The threshold is still derived as mean + margin.
	if b.Threshold != 4095+2500 {
		t.Errorf("threshold: got %d, want %d", b.Threshold, 4095+2500)
	}
}

func TestCalibrationNoSamples(t *testing.T) {
	var c Calibration
	b := c.Baseline(500)
	if !b.Degenerate {
		t.Error("no samples should be degenerate")
	}
	if b.Threshold != 500 {
		t.Errorf("threshold: got %d, want 500", b.Threshold)
	}
}

func TestEdgeDetectorOneEdgePerTouch(t *testing.T) {
	d := NewEdgeDetector(Baseline{Threshold: 100})

	readings := []int{10, 20, 150, 160, 170, 155, 50, 40}
	edges := 0
	for _, r := range readings {
		if d.Poll(r) {
			edges++
		}
	}
	if edges != 1 {
		t.Errorf("expected 1 edge for a single held touch, got %d", edges)
	}
	if d.Latched() {
		t.Error("latch should clear after the reading falls back")
	}
}

func TestEdgeDetectorTwoTouches(t *testing.T) {
	d := NewEdgeDetector(Baseline{Threshold: 100})

	readings := []int{10, 150, 10, 150, 10}
	var got []bool
	for _, r := range readings {
		got = append(got, d.Poll(r))
	}
	want := []bool{false, true, false, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reading %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEdgeDetectorThresholdIsExclusive(t *testing.T) {
	d := NewEdgeDetector(Baseline{Threshold: 100})
	if d.Poll(100) {
		t.Error("reading equal to threshold is not above it")
	}
	if !d.Poll(101) {
		t.Error("reading above threshold should be an edge")
	}
}
