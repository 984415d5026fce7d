/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: export.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PaloAltoNetworks/pango/util"
)

const (
	defaultRulesFile = "panorama_rules.csv"
	noProfileGroup   = "N/A"
)

var rulesHeader = []string{"RuleName", "SecurityProfileGroup"}

// Represents a security rule as read from Panorama (Group is empty when no profile group is set)
type ruleRecord struct {
	Name  string
	Group string
}

// Represents a row of the export
type ruleRow struct {
	Name  string
	Group string
}

type ruleSource interface {
	securityRules(dg, rulebase string) ([]ruleRecord, error)
	deviceGroups() ([]string, error)
}

// This resolves which device groups to export. 'all' means every device group followed by 'shared'.
func exportDeviceGroups(src ruleSource, all bool, requested []string) ([]string, error) {
	if !all {
		dgs := uniqueStrings(requested)
		if len(dgs) == 0 {
			dgs = []string{sharedDeviceGroup}
		}
		return dgs, nil
	}
	dgs, err := src.deviceGroups()
	if err != nil {
		return nil, fmt.Errorf("list device groups: %w", err)
	}
	return uniqueStrings(append(dgs, sharedDeviceGroup)), nil
}

// This fetches the security rules of each device group (pre-rulebase before post-rulebase)
func fetchRules(src ruleSource, dgs []string) ([]ruleRow, error) {
	rulebases := []string{
		util.PreRulebase,
		util.PostRulebase,
	}

	var rows []ruleRow
	for _, dg := range dgs {
		for _, rulebase := range rulebases {
			recs, err := src.securityRules(dg, rulebase)
			if err != nil {
				return nil, fmt.Errorf("get %s security rules of %q: %w", rulebase, dg, err)
			}
			for _, rec := range recs {
				rows = append(rows, toRuleRow(rec))
			}
		}
	}
	return rows, nil
}

func toRuleRow(rec ruleRecord) ruleRow {
	group := rec.Group
	if group == "" {
		group = noProfileGroup
	}
	return ruleRow{Name: rec.Name, Group: group}
}

// This writes the rows as CSV. The file is written next to its destination and
// renamed into place, so a failed write never leaves a partial file behind.
func writeRows(rows []ruleRow, path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err = w.Write(rulesHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err = w.Write([]string{row.Name, row.Group}); err != nil {
			return err
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// exportRules fetches first and only then writes, so a fetch failure leaves
// any existing file untouched. It returns the number of rows written.
func exportRules(src ruleSource, dgs []string, path string) (int, error) {
	rows, err := fetchRules(src, dgs)
	if err != nil {
		return 0, err
	}
	if err = writeRows(rows, path); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return len(rows), nil
}
