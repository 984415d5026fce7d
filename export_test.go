/*
 * Description: Unit tests for export.go
 * Filename: export_test.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/PaloAltoNetworks/pango/util"
)

// Rules keyed by "device group/rulebase"
type fakeRules struct {
	rules map[string][]ruleRecord
	dgs   []string
	err   error
	order []string
}

func (f *fakeRules) securityRules(dg, rulebase string) ([]ruleRecord, error) {
	f.order = append(f.order, dg+"/"+rulebase)
	if f.err != nil {
		return nil, f.err
	}
	return f.rules[dg+"/"+rulebase], nil
}

func (f *fakeRules) deviceGroups() ([]string, error) {
	return f.dgs, f.err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestExportRules(t *testing.T) {
	tests := []struct {
		name  string
		rules map[string][]ruleRecord
		want  string
		count int
	}{
		{"profile group and none", map[string][]ruleRecord{
			"shared/" + util.PreRulebase: {{"r1", "g1"}, {"r2", ""}},
		}, "RuleName,SecurityProfileGroup\nr1,g1\nr2,N/A\n", 2},
		{"pre before post", map[string][]ruleRecord{
			"shared/" + util.PostRulebase: {{"post1", "g2"}},
			"shared/" + util.PreRulebase:  {{"pre1", ""}},
		}, "RuleName,SecurityProfileGroup\npre1,N/A\npost1,g2\n", 2},
		{"no rules", nil, "RuleName,SecurityProfileGroup\n", 0},
		{"quoting", map[string][]ruleRecord{
			"shared/" + util.PreRulebase: {{"allow, web", "default"}},
		}, "RuleName,SecurityProfileGroup\n\"allow, web\",default\n", 1},
	}

	for _, tt := range tests {
		tt := tt
		tf := func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), defaultRulesFile)
			n, err := exportRules(&fakeRules{rules: tt.rules}, []string{sharedDeviceGroup}, path)
			if err != nil {
				t.Fatalf("Expected no error, but received (%v)\n", err)
			}
			if n != tt.count {
				t.Errorf("Expected (%d) rows, but received (%d)\n", tt.count, n)
			}
			if got := readFile(t, path); got != tt.want {
				t.Errorf("Expected (%q), but received (%q)\n", tt.want, got)
			}
		}

		t.Run(tt.name, tf)
	}
}

func TestExportRulesFetchErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	src := &fakeRules{err: errors.New("unauthorized")}

	fresh := filepath.Join(dir, "fresh.csv")
	if _, err := exportRules(src, []string{sharedDeviceGroup}, fresh); err == nil {
		t.Fatal("Expected an error, but received nothing")
	}
	if _, err := os.Stat(fresh); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected no file to be created, but stat returned (%v)\n", err)
	}

	existing := filepath.Join(dir, "existing.csv")
	if err := os.WriteFile(existing, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := exportRules(src, []string{sharedDeviceGroup}, existing); err == nil {
		t.Fatal("Expected an error, but received nothing")
	}
	if got := readFile(t, existing); got != "old\n" {
		t.Errorf("Expected the existing file to be untouched, but received (%q)\n", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected only the existing file in the directory, but found (%d) entries\n", len(entries))
	}
}

func TestWriteRowsBadDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "rules.csv")
	if err := writeRows([]ruleRow{{"r1", "g1"}}, path); err == nil {
		t.Error("Expected an error, but received nothing")
	}
}

func TestFetchRulesOrder(t *testing.T) {
	src := &fakeRules{}
	if _, err := fetchRules(src, []string{"branch", "shared"}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"branch/" + util.PreRulebase,
		"branch/" + util.PostRulebase,
		"shared/" + util.PreRulebase,
		"shared/" + util.PostRulebase,
	}
	if !reflect.DeepEqual(src.order, want) {
		t.Errorf("Expected (%v), but received (%v)\n", want, src.order)
	}
}

func TestExportDeviceGroups(t *testing.T) {
	tests := []struct {
		name      string
		all       bool
		requested []string
		listed    []string
		want      []string
	}{
		{"default shared", false, nil, nil, []string{"shared"}},
		{"requested", false, []string{"branch", "branch", "hq"}, nil, []string{"branch", "hq"}},
		{"all", true, []string{"ignored"}, []string{"branch", "hq"}, []string{"branch", "hq", "shared"}},
	}

	for _, tt := range tests {
		tt := tt
		tf := func(t *testing.T) {
			t.Parallel()
			got, err := exportDeviceGroups(&fakeRules{dgs: tt.listed}, tt.all, tt.requested)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected (%v), but received (%v)\n", tt.want, got)
			}
		}

		t.Run(tt.name, tf)
	}
}
