package miniscope

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"miniscope/pkg/config"
	"miniscope/pkg/log"
	"miniscope/pkg/storage"
	"miniscope/pkg/video/videotest"

	"github.com/stretchr/testify/require"
)

func writeText(t *testing.T, path string, content string) {
	t.Helper()
	videotest.WriteFile(t, path, []byte(content))
}

func newLegacyFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeText(t, filepath.Join(dir, storage.LegacySettingsFile),
		"excitation\tmsCamExposure\trecordLength\n47\t255\t1000\n")
	writeText(t, filepath.Join(dir, storage.LegacyTimestampFile),
		"camNum\tframeNum\tsysClock\tbuffer\n1\t1\t4127\t1\n1\t2\t4177\t1\n")
	videotest.WriteAVI(t, filepath.Join(dir, "msCam1.avi"), 2)
	return dir
}

func newModernFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeText(t, filepath.Join(dir, storage.ModernMetadataFile), `{"miniscopes": ["Miniscope"]}`)
	writeText(t, filepath.Join(dir, "Miniscope", storage.ModernMetadataFile),
		`{"deviceName": "Miniscope", "customFlag": "x", "excitation": 10}`)
	writeText(t, filepath.Join(dir, "Miniscope", storage.ModernTimestampFile),
		"Frame Number,Time Stamp (ms),Buffer Index\n0,5,0\n1,55,0\n2,105,0\n")
	videotest.WriteFile(t, filepath.Join(dir, "Miniscope", "0.avi"),
		videotest.AVI(videotest.AVIHeader{StrhFrames: 3}))
	return dir
}

func TestConvert(t *testing.T) {
	t.Run("legacy", func(t *testing.T) {
		bundle, err := Convert(newLegacyFolder(t), config.Default(), log.NewMockLogger())
		require.NoError(t, err)

		require.Len(t, bundle.Devices, 1)
		recordLength, _ := bundle.Devices[0].Int("recordLength")
		require.Equal(t, int64(1000), recordLength)

		require.Len(t, bundle.Series, 1)
		require.Equal(t, []float64{0, 4.177}, bundle.Series[0].Timestamps.Seconds)
		require.Nil(t, bundle.Annotation)
	})
	t.Run("modern", func(t *testing.T) {
		bundle, err := Convert(newModernFolder(t), config.Default(), log.NewMockLogger())
		require.NoError(t, err)

		customFlag, ok := bundle.Devices[0].Text("customFlag")
		require.True(t, ok)
		require.Equal(t, "x", customFlag)

		series := bundle.Series[0]
		require.Equal(t, []string{"Miniscope/0.avi"}, series.ExternalFiles)
		require.Equal(t, []int64{0}, series.StartingFrames)
		require.Equal(t, 3, series.Timestamps.Len())
	})
	t.Run("unknownLayout", func(t *testing.T) {
		_, err := Convert(t.TempDir(), config.Default(), log.NewMockLogger())
		require.ErrorIs(t, err, storage.ErrMissingFile)
	})
}

func TestConvertFile(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte(`
microscope:
  name: Scope
  device:
    excitation: "47"
`), 0o600))

		bundle, err := ConvertFile(newModernFolder(t), configPath, log.NewMockLogger())
		require.NoError(t, err)
		require.Equal(t, "Scope", bundle.Series[0].Name)

		excitation, _ := bundle.Devices[0].Int("excitation")
		require.Equal(t, int64(47), excitation)
	})
	t.Run("default", func(t *testing.T) {
		bundle, err := ConvertFile(newLegacyFolder(t), "", log.NewMockLogger())
		require.NoError(t, err)
		require.Equal(t, "OnePhotonSeries", bundle.Series[0].Name)
	})
	t.Run("configErr", func(t *testing.T) {
		_, err := ConvertFile(newLegacyFolder(t), filepath.Join(t.TempDir(), "x.yaml"), nil)
		require.Error(t, err)
	})
}

func TestApp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	defer func() {
		cancel()
		wg.Wait()
	}()

	app, err := NewApp(ctx, config.Default(), t.TempDir(), wg)
	require.NoError(t, err)

	legacy := newLegacyFolder(t)
	missing := filepath.Join(t.TempDir(), "missing")

	bundles, err := app.Convert(legacy, missing)
	require.ErrorIs(t, err, storage.ErrMissingFile)
	require.Len(t, bundles, 2)
	require.NotNil(t, bundles[0])
	require.Nil(t, bundles[1])

	require.Eventually(t, func() bool {
		_, _ = app.Convert(missing)
		logs, err := app.Logs(log.Query{
			Levels:     []log.Level{log.LevelError},
			Recordings: []string{missing},
			Limit:      1,
		})
		return err == nil && len(logs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAppWithoutLogDB(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	defer func() {
		cancel()
		wg.Wait()
	}()

	app, err := NewApp(ctx, config.Default(), "", wg)
	require.NoError(t, err)

	bundles, err := app.Convert(newModernFolder(t))
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	_, err = app.Logs(log.Query{})
	require.ErrorIs(t, err, ErrNoLogDB)
}

func TestAppAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	app, err := NewApp(ctx, config.Default(), t.TempDir(), wg)
	require.NoError(t, err)
	cancel()
	wg.Wait()

	folder := newLegacyFolder(t)
	done := make(chan error)
	go func() {
		_, err := app.Convert(folder)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("convert blocked after the app stopped")
	}
}

func TestConvertUnstartedLogger(t *testing.T) {
	logger := log.NewLogger(&sync.WaitGroup{})
	bundle, err := Convert(newModernFolder(t), config.Default(), logger)
	require.NoError(t, err)
	require.Len(t, bundle.Series, 1)
}
