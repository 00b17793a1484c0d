// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger() (*Logger, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := NewLogger(&sync.WaitGroup{})
	logger.Start(ctx)
	return logger, cancel
}

func TestLogger(t *testing.T) {
	t.Run("levels", func(t *testing.T) {
		logger, cancel := newTestLogger()
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		cases := map[string]struct {
			event    func() *Event
			expected Level
		}{
			"error": {logger.Error, LevelError},
			"warn":  {logger.Warn, LevelWarning},
			"info":  {logger.Info, LevelInfo},
			"debug": {logger.Debug, LevelDebug},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				go tc.event().Src("s1").Recording("r1").Msgf("%v", name)

				actual := <-feed
				require.Equal(t, tc.expected, actual.Level)
				require.Equal(t, name, actual.Msg)
				require.Equal(t, "s1", actual.Src)
				require.Equal(t, "r1", actual.Recording)
				require.NotZero(t, actual.Time)
			})
		}
	})
	t.Run("time", func(t *testing.T) {
		logger, cancel := newTestLogger()
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		go logger.Info().Time(time.Unix(1, 0)).Msg("")
		require.Equal(t, UnixMicro(1000000), (<-feed).Time)
	})
	t.Run("unsubBeforePrint", func(t *testing.T) {
		logger, cancel := newTestLogger()
		defer cancel()

		feed1, cancel1 := logger.Subscribe()
		feed2, cancel2 := logger.Subscribe()
		cancel2()

		go logger.Info().Msg("test")
		actual1 := <-feed1
		actual2 := <-feed2
		cancel1()

		require.Equal(t, "test", actual1.Msg)
		require.Equal(t, Log{}, actual2)
	})
	t.Run("noSubscribers", func(t *testing.T) {
		logger := NewMockLogger()
		logger.Error().Msg("dropped")
	})
	t.Run("dropped", func(t *testing.T) {
		stopped := func() *Logger {
			ctx, cancel := context.WithCancel(context.Background())
			wg := &sync.WaitGroup{}
			logger := NewLogger(wg)
			logger.Start(ctx)
			cancel()
			wg.Wait()
			return logger
		}
		cases := map[string]*Logger{
			"notStarted": NewLogger(&sync.WaitGroup{}),
			"stopped":    stopped(),
		}
		for name, logger := range cases {
			t.Run(name, func(t *testing.T) {
				done := make(chan struct{})
				go func() {
					logger.Error().Msg("dropped")
					_, cancel := logger.Subscribe()
					cancel()
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("logger blocked")
				}
			})
		}
	})
}

type chanWriter chan string

func (w chanWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestLogToWriter(t *testing.T) {
	logger, cancel := newTestLogger()
	defer cancel()

	ctx, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	w := make(chanWriter, 100)
	go logger.LogToWriter(ctx, w)

	// The writer subscribes asynchronously.
	var line string
	require.Eventually(t, func() bool {
		logger.Warn().Src("builder").Recording("/a").Msg("1")
		select {
		case line = <-w:
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, time.Second, time.Millisecond)

	require.Equal(t, "[WARNING] /a: Builder: 1\n", line)
}

func TestFormatLog(t *testing.T) {
	cases := map[string]struct {
		input    Log
		expected string
	}{
		"error":   {Log{Level: LevelError, Msg: "a"}, "[ERROR] a"},
		"info":    {Log{Level: LevelInfo, Src: "video", Msg: "a"}, "[INFO] Video: a"},
		"debug":   {Log{Level: LevelDebug, Recording: "r", Msg: "a"}, "[DEBUG] r: a"},
		"unknown": {Log{Msg: "a"}, "a"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, formatLog(tc.input))
		})
	}
}
