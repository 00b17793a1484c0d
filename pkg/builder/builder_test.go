package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"miniscope/pkg/config"
	"miniscope/pkg/layout"
	"miniscope/pkg/log"
	"miniscope/pkg/storage"
	"miniscope/pkg/video/videotest"

	"github.com/stretchr/testify/require"
)

func writeText(t *testing.T, path string, content string) {
	t.Helper()
	videotest.WriteFile(t, path, []byte(content))
}

// Timestamps in milliseconds, one video per entry in frames.
func writeModernStream(t *testing.T, dir string, name string, ms []int, frames ...uint32) {
	t.Helper()
	writeText(t, filepath.Join(dir, name, storage.ModernMetadataFile),
		fmt.Sprintf(`{"deviceName": %q, "deviceID": 0, "frameRate": "20FPS"}`, name))

	var b strings.Builder
	b.WriteString("Frame Number,Time Stamp (ms),Buffer Index\n")
	for i, v := range ms {
		fmt.Fprintf(&b, "%d,%d,0\n", i, v)
	}
	writeText(t, filepath.Join(dir, name, storage.ModernTimestampFile), b.String())

	for i, n := range frames {
		videotest.WriteAVI(t, filepath.Join(dir, name, fmt.Sprintf("%d.avi", i)), n)
	}
}

func writeModernSession(t *testing.T, dir string, second int, withCamera bool) {
	t.Helper()
	start := ""
	if second >= 0 {
		start = fmt.Sprintf(`, "recordingStartTime": {"year": 2022, "month": 9, "day": 19,`+
			` "hour": 15, "minute": 0, "second": %d, "msec": 0}`, second)
	}
	cameras := `[]`
	if withCamera {
		cameras = `["BehavCam 2"]`
	}
	writeText(t, filepath.Join(dir, storage.ModernMetadataFile),
		fmt.Sprintf(`{"miniscopes": ["Miniscope"], "cameras": %v%v}`, cameras, start))

	writeModernStream(t, dir, "Miniscope", []int{1000, 1050, 1100, 1150, 1200}, 3, 2)
	if withCamera {
		writeModernStream(t, dir, "BehavCam 2", []int{0, 100}, 2)
	}
}

func writeLegacy(t *testing.T, dir string) {
	t.Helper()
	writeText(t, filepath.Join(dir, storage.LegacySettingsFile),
		"animal\texcitation\tmsCamExposure\trecordLength\n"+
			"mouse1\t47\t255\t1000\n\n"+
			"elapsedTime\tNote\n"+
			"500\tstart\n")
	writeText(t, filepath.Join(dir, storage.LegacyTimestampFile),
		"camNum\tframeNum\tsysClock\tbuffer\n"+
			"1\t1\t9999\t1\n"+
			"0\t1\t10\t1\n"+
			"1\t2\t50\t1\n"+
			"1\t3\t100\t1\n"+
			"0\t2\t40\t1\n")
	videotest.WriteAVI(t, filepath.Join(dir, "msCam1.avi"), 2)
	videotest.WriteAVI(t, filepath.Join(dir, "msCam2.avi"), 1)
	videotest.WriteAVI(t, filepath.Join(dir, "behavCam1.avi"), 2)
}

type logCollector struct {
	mu   sync.Mutex
	logs []log.Log
}

func collectLogs(t *testing.T, logger *log.Logger) *logCollector {
	t.Helper()
	c := &logCollector{}
	feed, cancel := logger.Subscribe()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case l := <-feed:
				c.mu.Lock()
				c.logs = append(c.logs, l)
				c.mu.Unlock()
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		cancel()
	})
	return c
}

func (c *logCollector) contains(level log.Level, substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.logs {
		if l.Level == level && strings.Contains(l.Msg, substr) {
			return true
		}
	}
	return false
}

func TestBuildLegacy(t *testing.T) {
	dir := t.TempDir()
	writeLegacy(t, dir)

	cfg := config.Default()
	bundle, err := Build(layout.NewLegacy(dir, cfg), cfg, log.NewMockLogger())
	require.NoError(t, err)

	require.Len(t, bundle.Devices, 2)
	scope, ok := bundle.Device("Miniscope")
	require.True(t, ok)
	excitation, _ := scope.Int("excitation")
	require.Equal(t, int64(47), excitation)
	_, ok = bundle.Device("BehavCam")
	require.True(t, ok)

	require.Len(t, bundle.Series, 2)
	microscope := bundle.Series[0]
	require.Equal(t, "OnePhotonSeries", microscope.Name)
	require.Equal(t, "Miniscope", microscope.Device)
	require.Equal(t, []string{"msCam1.avi", "msCam2.avi"}, microscope.ExternalFiles)
	require.Equal(t, []int64{0, 2}, microscope.StartingFrames)
	require.Equal(t, []float64{0, 0.05, 0.1}, microscope.Timestamps.Seconds)

	behavior := bundle.Series[1]
	require.Equal(t, "BehavCamImageSeries", behavior.Name)
	require.Equal(t, "BehavCam", behavior.Device)
	require.Equal(t, []float64{0, 0.04}, behavior.Timestamps.Seconds)

	require.NotNil(t, bundle.Annotation)
	require.Equal(t, 0.5, bundle.Annotation.Notes[0].Time)
}

func TestBuildLegacyWithoutBehavior(t *testing.T) {
	dir := t.TempDir()
	writeLegacy(t, dir)
	writeText(t, filepath.Join(dir, storage.LegacyTimestampFile),
		"camNum\tsysClock\n1\t0\n1\t50\n1\t100\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "behavCam1.avi")))

	cfg := config.Default()
	logger := log.NewMockLogger()
	logs := collectLogs(t, logger)

	bundle, err := Build(layout.NewLegacy(dir, cfg), cfg, logger)
	require.NoError(t, err)
	require.Len(t, bundle.Series, 1)
	require.Len(t, bundle.Devices, 1)

	require.Eventually(t, func() bool {
		return logs.contains(log.LevelInfo, "skipping BehavCamImageSeries")
	}, time.Second, 10*time.Millisecond)
}

func TestBuildModernRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeModernSession(t, filepath.Join(dir, "15_00_00"), 0, true)
	writeModernSession(t, filepath.Join(dir, "15_00_10"), 10, true)
	writeText(t, filepath.Join(dir, "15_00_10", storage.ModernNotesFile),
		"Time Stamp (ms),Note\n1000,lick\n")

	cfg := config.Default()
	cfg.Microscope.Device = map[string]string{"excitation": "47"}

	bundle, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
	require.NoError(t, err)

	require.Len(t, bundle.Devices, 2)
	scope, ok := bundle.Device("Miniscope")
	require.True(t, ok)
	excitation, _ := scope.Int("excitation")
	require.Equal(t, int64(47), excitation)
	_, ok = scope.Get("deviceID")
	require.False(t, ok)

	require.Len(t, bundle.Series, 2)
	microscope := bundle.Series[0]
	require.Equal(t, "OnePhotonSeries", microscope.Name)
	require.Equal(t, []string{
		"15_00_00/Miniscope/0.avi",
		"15_00_00/Miniscope/1.avi",
		"15_00_10/Miniscope/0.avi",
		"15_00_10/Miniscope/1.avi",
	}, microscope.ExternalFiles)

	// Offsets are cumulative across sessions.
	require.Equal(t, []int64{0, 3, 5, 8}, microscope.StartingFrames)

	// Length is the sum of the session lengths.
	require.Equal(t, 10, microscope.Timestamps.Len())
	require.Equal(t, []int{5, 5}, microscope.Timestamps.Segments)
	require.Equal(t, float64(0), microscope.Timestamps.Seconds[0])
	require.InDelta(t, 10.0, microscope.Timestamps.Seconds[5], 1e-9)
	require.InDelta(t, 10.2, microscope.Timestamps.Seconds[9], 1e-9)

	behavior := bundle.Series[1]
	require.Equal(t, "BehavCamImageSeries", behavior.Name)
	require.Equal(t, "BehavCam2", behavior.Device)
	require.Equal(t, []int64{0, 2}, behavior.StartingFrames)

	require.NotNil(t, bundle.Annotation)
	require.InDelta(t, 11.0, bundle.Annotation.Notes[0].Time, 1e-9)
}

func TestBuildModernSessionOrder(t *testing.T) {
	t.Run("startTime", func(t *testing.T) {
		dir := t.TempDir()
		writeModernSession(t, filepath.Join(dir, "a_1"), 10, false)
		writeModernSession(t, filepath.Join(dir, "a_2"), 0, false)

		cfg := config.Default()
		bundle, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
		require.NoError(t, err)

		series := bundle.Series[0]
		require.Equal(t, []string{
			"a_2/Miniscope/0.avi",
			"a_2/Miniscope/1.avi",
			"a_1/Miniscope/0.avi",
			"a_1/Miniscope/1.avi",
		}, series.ExternalFiles)
		require.Equal(t, []int64{0, 3, 5, 8}, series.StartingFrames)

		seconds := series.Timestamps.Seconds
		require.Len(t, seconds, 10)
		for i := 1; i < len(seconds); i++ {
			require.GreaterOrEqual(t, seconds[i], seconds[i-1])
		}
		require.InDelta(t, 10.0, seconds[5], 1e-9)
	})
	t.Run("overlap", func(t *testing.T) {
		dir := t.TempDir()
		writeModernSession(t, filepath.Join(dir, "a_1"), 5, false)
		writeModernSession(t, filepath.Join(dir, "a_2"), 5, false)

		cfg := config.Default()
		_, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
		require.ErrorIs(t, err, storage.ErrMalformedField)
		require.Contains(t, err.Error(), "a_2")
	})
}

func TestBuildModernWithoutStartTime(t *testing.T) {
	dir := t.TempDir()
	writeModernSession(t, filepath.Join(dir, "1"), 0, false)
	writeModernSession(t, filepath.Join(dir, "2"), -1, false)

	cfg := config.Default()
	bundle, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
	require.NoError(t, err)

	require.Len(t, bundle.Series, 1)
	ts := bundle.Series[0].Timestamps

	// Second session continues from the end of the first.
	require.InDelta(t, 0.2, ts.Seconds[4], 1e-9)
	require.InDelta(t, 0.2, ts.Seconds[5], 1e-9)
	require.InDelta(t, 0.4, ts.Seconds[9], 1e-9)
	require.Nil(t, bundle.Annotation)
}

func TestBuildMismatch(t *testing.T) {
	newFolder := func(t *testing.T) string {
		dir := t.TempDir()
		writeModernSession(t, dir, 0, false)
		// 5 timestamps, 6 frames.
		videotest.WriteAVI(t, filepath.Join(dir, "Miniscope", "2.avi"), 1)
		return dir
	}

	t.Run("error", func(t *testing.T) {
		dir := newFolder(t)
		cfg := config.Default()

		_, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
		require.ErrorIs(t, err, storage.ErrMismatch)

		var e *storage.MismatchError
		require.ErrorAs(t, err, &e)
		require.Equal(t, 5, e.Timestamps)
		require.Equal(t, int64(6), e.Frames)
	})
	t.Run("allowMoreFrames", func(t *testing.T) {
		dir := newFolder(t)
		cfg := config.Default()
		cfg.AllowFrameMismatch = true
		logger := log.NewMockLogger()
		logs := collectLogs(t, logger)

		bundle, err := Build(layout.NewModern(dir, cfg), cfg, logger)
		require.NoError(t, err)
		require.Equal(t, 5, bundle.Series[0].Timestamps.Len())

		require.Eventually(t, func() bool {
			return logs.contains(log.LevelWarning, "5 timestamps, 6 frames")
		}, time.Second, 10*time.Millisecond)
	})
	t.Run("truncate", func(t *testing.T) {
		dir := t.TempDir()
		writeModernSession(t, dir, 0, false)
		require.NoError(t, os.Remove(filepath.Join(dir, "Miniscope", "1.avi")))

		cfg := config.Default()
		cfg.AllowFrameMismatch = true

		bundle, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
		require.NoError(t, err)
		series := bundle.Series[0]
		require.Equal(t, []float64{0, 0.05, 0.1}, series.Timestamps.Seconds)
		require.Equal(t, []int64{0}, series.StartingFrames)
	})
}

func TestBuildErrors(t *testing.T) {
	t.Run("requiredStreamMissing", func(t *testing.T) {
		dir := t.TempDir()
		writeModernSession(t, dir, 0, false)

		cfg := config.Default()
		cfg.Behavior.Stream = "BehavCam 2"
		required := false
		cfg.Behavior.Optional = &required

		_, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
		require.ErrorIs(t, err, storage.ErrEmptyStream)
	})
	t.Run("corruptVideo", func(t *testing.T) {
		dir := t.TempDir()
		writeModernSession(t, dir, 0, false)
		writeText(t, filepath.Join(dir, "Miniscope", "1.avi"), "garbage")

		cfg := config.Default()
		_, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
		require.ErrorIs(t, err, storage.ErrCorruptVideo)
	})
	t.Run("malformedOverride", func(t *testing.T) {
		dir := t.TempDir()
		writeModernSession(t, dir, 0, false)

		cfg := config.Default()
		cfg.Microscope.Device = map[string]string{"excitation": "high"}
		_, err := Build(layout.NewModern(dir, cfg), cfg, log.NewMockLogger())
		require.ErrorIs(t, err, storage.ErrMalformedField)
	})
}

func TestAppendDevice(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	writeModernSession(t, dir, 0, false)
	s, err := layout.NewModern(dir, cfg).Sessions()
	require.NoError(t, err)
	streams, err := s[0].Streams()
	require.NoError(t, err)

	a, err := s[0].Device(streams[0])
	require.NoError(t, err)
	b, err := a.Merge(map[string]interface{}{"gain": "Low"})
	require.NoError(t, err)

	devices := appendDevice(nil, a)
	devices = appendDevice(devices, b)
	require.Len(t, devices, 1)
	_, ok := devices[0].Get("gain")
	require.False(t, ok)
}
