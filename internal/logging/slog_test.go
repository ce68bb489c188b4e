// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestSlogLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(&slogHandler{logger: zerolog.New(buf)})
}

func TestSlogBridgeAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestSlogLogger(&buf)

	logger.Info("hello", "service", "capture", "count", int64(3))

	out := buf.String()
	for _, want := range []string{`"service":"capture"`, `"count":3`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestSlogBridgeNestedGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestSlogLogger(&buf)

	logger.WithGroup("outer").WithGroup("inner").Info("msg", "key", "v")

	out := buf.String()
	if !strings.Contains(out, `"outer.inner.key":"v"`) {
		t.Errorf("output %q: nested group keys must render outer-first", out)
	}
}

func TestSlogBridgeGroupAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestSlogLogger(&buf)

	logger.WithGroup("svc").Info("msg", slog.Group("nested", slog.String("key", "v")))

	out := buf.String()
	if !strings.Contains(out, `"svc.nested.key":"v"`) {
		t.Errorf("output %q: group attr keys must render outer-first", out)
	}
}

func TestSlogBridgeLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestSlogLogger(&buf)

	logger.Warn("careful")
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("output %q missing warn level", buf.String())
	}

	buf.Reset()
	logger.Error("broken")
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("output %q missing error level", buf.String())
	}
}
