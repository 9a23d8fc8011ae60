package logic

// DefaultTouchMargin is how far above the calibrated mean a reading must
// rise before it counts as a touch.
const DefaultTouchMargin = 2500

// Baseline is the calibration result of one touch channel.
type Baseline struct {
	Mean      int
	Threshold int
	Samples   int
	// Degenerate is set when calibration saw no samples or no variation at
	// all, which usually means a stuck or disconnected sensor.
	Degenerate bool
}

// Calibration accumulates raw readings during the warm-up window.
type Calibration struct {
	sum   int64
	count int
	min   int
	max   int
}

// Add records one raw reading.
func (c *Calibration) Add(reading int) {
	if c.count == 0 || reading < c.min {
		c.min = reading
	}
	if c.count == 0 || reading > c.max {
		c.max = reading
	}
	c.sum += int64(reading)
	c.count++
}

// Baseline derives the trigger threshold as mean + margin.
// Calibration cannot fail; a stuck sensor only yields a Degenerate baseline.
func (c *Calibration) Baseline(margin int) Baseline {
	if c.count == 0 {
		return Baseline{Threshold: margin, Degenerate: true}
	}
	mean := int(c.sum / int64(c.count))
	return Baseline{
		Mean:       mean,
		Threshold:  mean + margin,
		Samples:    c.count,
		Degenerate: c.min == c.max,
	}
}

// EdgeDetector reports one rising edge per physical touch. While a reading
// stays above the threshold the detector is latched and reports nothing.
type EdgeDetector struct {
	threshold int
	latched   bool
}

// NewEdgeDetector creates a detector for the given calibration baseline.
func NewEdgeDetector(b Baseline) *EdgeDetector {
	return &EdgeDetector{threshold: b.Threshold}
}

// Poll feeds one reading and reports whether it is a new touch.
func (d *EdgeDetector) Poll(reading int) bool {
	if reading > d.threshold {
		if d.latched {
			return false
		}
		d.latched = true
		return true
	}
	d.latched = false
	return false
}

// Latched reports whether the pad is currently held.
func (d *EdgeDetector) Latched() bool {
	return d.latched
}
