package main

import "testing"

func TestNormalizeLogLevelMapsSpecVocabularyToLogrus(t *testing.T) {
	cases := map[string]string{
		"error":   "error",
		"warning": "warn",
		"notice":  "info",
		"info":    "info",
		"verbose": "trace",
		"debug":   "debug",
	}
	for in, want := range cases {
		if got := normalizeLogLevel(in); got != want {
			t.Errorf("normalizeLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunPrintsVersionAndExits(t *testing.T) {
	if err := run([]string{"--version"}); err != nil {
		t.Fatalf("run(--version): %v", err)
	}
}
