package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	logger := New("reconciler", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithResource("CATALOG", "analytics_dev").Info("created")

	out := buf.String()
	for _, want := range []string{`"component":"reconciler"`, `"resource_type":"CATALOG"`, `"resource":"analytics_dev"`, `"message":"created"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got %s", want, out)
		}
	}
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	logger := New("x", "shouting", "text")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Error("debug output should be suppressed at info level")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithEnvironment(ctx, "prd")

	if GetRunID(ctx) != "run-1" {
		t.Errorf("run id lost: %q", GetRunID(ctx))
	}
	if GetEnvironment(ctx) != "prd" {
		t.Errorf("environment lost: %q", GetEnvironment(ctx))
	}
	if GetRunID(context.Background()) != "" {
		t.Error("empty context should yield empty run id")
	}
}

func TestWithContext_AddsFields(t *testing.T) {
	logger := New("reader", "info", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	ctx := WithRunID(context.Background(), "run-9")
	logger.WithContext(ctx).Info("reading")

	out := buf.String()
	if !strings.Contains(out, `"run_id":"run-9"`) {
		t.Errorf("expected run_id field, got %s", out)
	}
}

func TestNewRunID_Unique(t *testing.T) {
	if NewRunID() == NewRunID() {
		t.Error("run ids should be unique")
	}
}
