package logging_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
)

func TestLevelFiltering(t *testing.T) {
	cases := map[string]struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		"debug":        {level: "debug", wantDebug: true, wantInfo: true},
		"info":         {level: "info", wantDebug: false, wantInfo: true},
		"warn":         {level: "warn", wantDebug: false, wantInfo: false},
		"uppercase":    {level: "ERROR", wantDebug: false, wantInfo: false},
		"unrecognized": {level: "chatty", wantDebug: false, wantInfo: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)
			logger.Debug("debug line")
			logger.Info("info line")

			out := buf.String()
			gt.Equal(t, tc.wantDebug, bytes.Contains([]byte(out), []byte("debug line")))
			gt.Equal(t, tc.wantInfo, bytes.Contains([]byte(out), []byte("info line")))
		})
	}
}

func TestContextCarriesLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("debug", buf).With("pipeline", "p-123")

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Info("stage started")

	out := buf.String()
	gt.S(t, out).Contains("stage started")
	gt.S(t, out).Contains("p-123")
}

func TestFromFallsBackToDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	logging.SetDefault(logging.New("warn", buf))

	logger := logging.From(context.Background())
	gt.Equal(t, logger, logging.Default())

	logger.Warn("budget nearly exhausted")
	gt.S(t, buf.String()).Contains("budget nearly exhausted")
}

func TestSetDefaultIgnoresNil(t *testing.T) {
	original := logging.Default()
	logging.SetDefault(nil)
	gt.Equal(t, logging.Default(), original)
}
