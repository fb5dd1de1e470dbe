package cmd

import (
	"strings"
	"testing"
)

func TestCommandTree(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"trends", "run"}, "run"},
		{[]string{"trends", "list"}, "list"},
		{[]string{"calibration", "run"}, "run"},
		{[]string{"calibration", "report"}, "report"},
		{[]string{"calibration", "params"}, "params"},
		{[]string{"calibration", "correct", "50"}, "correct"},
		{[]string{"import", "engagement", "dump.jsonl"}, "engagement"},
		{[]string{"import", "outcomes", "dump.jsonl"}, "outcomes"},
		{[]string{"migrate"}, "migrate"},
		{[]string{"serve"}, "serve"},
		{[]string{"version"}, "version"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			found, _, err := rootCmd.Find(tt.args)
			if err != nil {
				t.Fatalf("Find(%v) error = %v", tt.args, err)
			}
			if found.Name() != tt.want {
				t.Errorf("Find(%v) = %s, want %s", tt.args, found.Name(), tt.want)
			}
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level", "json"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing persistent flag --%s", name)
		}
	}
}
