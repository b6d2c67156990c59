package core

// frameWindow is how many frames the moving average spans.
const frameWindow = 30

/**
 * @brief Rolling frame statistics for the render loop. Record feeds one
 * frame delta per call; FPS and AverageFrameMs report over a sliding
 * window of recent frames. Not safe for concurrent use; the frame loop
 * owns it.
 */
type FrameMetrics struct {
	samples  [frameWindow]float64
	cursor   int
	recorded int

	frames        int
	accumulatedMs float64
	fps           float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Record accounts one frame that took elapsedSeconds of wall time.
func (m *FrameMetrics) Record(elapsedSeconds float64) {
	frameMs := elapsedSeconds * 1000.0

	m.samples[m.cursor] = frameMs
	m.cursor = (m.cursor + 1) % frameWindow
	if m.recorded < frameWindow {
		m.recorded++
	}

	m.frames++
	m.accumulatedMs += frameMs
	if m.accumulatedMs >= 1000.0 {
		m.fps = float64(m.frames)
		m.accumulatedMs -= 1000.0
		m.frames = 0
	}
}

// FPS reports frames counted over the last full second. Zero until a
// second of frames has been recorded.
func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// AverageFrameMs reports the mean frame time over the sliding window.
func (m *FrameMetrics) AverageFrameMs() float64 {
	if m.recorded == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < m.recorded; i++ {
		sum += m.samples[i]
	}
	return sum / float64(m.recorded)
}
