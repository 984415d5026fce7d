/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: pan.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"encoding/xml"
	"fmt"

	"github.com/PaloAltoNetworks/pango"
	"github.com/PaloAltoNetworks/pango/commit"
)

const sharedDeviceGroup = "shared"

// panClient is everything the commands ask of a Panorama connection
type panClient interface {
	ruleSource
	jobQuerier
	peerChangeTarget
	apiKey() string
}

// panorama is a connected Panorama client. It is created by connect and
// handed to each task explicitly.
type panorama struct {
	p *pango.Panorama
}

// This creates a Panorama client & initializes it (API key retrieval happens here)
func connect(cfg config) (*panorama, error) {
	logging := uint32(pango.LogQuiet)
	if cfg.Debug {
		logging = pango.LogAction | pango.LogOp
	}
	p := &pango.Panorama{
		Client: pango.Client{
			Hostname: cfg.Host,
			Username: cfg.User,
			Password: cfg.Password,
			ApiKey:   cfg.APIKey,
			Logging:  logging,
		},
	}
	if err := p.Initialize(); err != nil {
		return nil, err
	}
	return &panorama{p: p}, nil
}

// apiKey returns the key in use, generated during connect if none was configured.
func (pn *panorama) apiKey() string {
	return pn.p.ApiKey
}

// This returns a device group's security rules for one rulebase (pre or post)
func (pn *panorama) securityRules(dg, rulebase string) ([]ruleRecord, error) {
	entries, err := pn.p.Policies.Security.GetAll(dg, rulebase)
	if err != nil {
		return nil, err
	}
	recs := make([]ruleRecord, 0, len(entries))
	for _, entry := range entries {
		recs = append(recs, ruleRecord{Name: entry.Name, Group: entry.Group})
	}
	return recs, nil
}

// This returns the names of all the device groups
func (pn *panorama) deviceGroups() ([]string, error) {
	return pn.p.Panorama.DeviceGroup.GetList()
}

type showJobReq struct {
	XMLName xml.Name `xml:"show"`
	ID      uint     `xml:"jobs>id"`
}

// This runs 'show jobs id' and decodes the reply
func (pn *panorama) showJob(id uint) (jobStatus, error) {
	var ans jobStatus
	if _, err := pn.p.Op(showJobReq{ID: id}, "", nil, &ans); err != nil {
		return jobStatus{}, err
	}
	return ans, nil
}

// This commits the candidate config to Panorama, returning the job ID (0 when there was nothing to commit)
func (pn *panorama) commitPanorama(description string, admins []string) (uint, error) {
	cmd := commit.PanoramaCommit{
		Description: description,
		Admins:      admins,
	}
	id, _, err := pn.p.Commit(cmd, "", nil)
	return id, err
}

// This pushes a device group's config to its firewalls, returning the job ID
func (pn *panorama) pushDeviceGroup(dg, description string) (uint, error) {
	cmd := commit.PanoramaCommitAll{
		Type:        commit.TypeDeviceGroup,
		Name:        dg,
		Description: description,
	}
	id, _, err := pn.p.Commit(cmd, "all", nil)
	return id, err
}

// This renames a BGP peer inside a template's virtual router by writing the
// peer back under its new name, then deleting the old entry
func (pn *panorama) renameBgpPeer(tmpl, vr, pg, oldName, newName string) error {
	entry, err := pn.p.Network.BgpPeer.Get(tmpl, "", vr, pg, oldName)
	if err != nil {
		return fmt.Errorf("get bgp peer %q: %w", oldName, err)
	}
	entry.Name = newName
	if err = pn.p.Network.BgpPeer.Edit(tmpl, "", vr, pg, entry); err != nil {
		return fmt.Errorf("write bgp peer %q: %w", newName, err)
	}
	if err = pn.p.Network.BgpPeer.Delete(tmpl, "", vr, pg, oldName); err != nil {
		return fmt.Errorf("delete bgp peer %q: %w", oldName, err)
	}
	return nil
}

// For building a list without blanks or repeats (keeps first-seen order)
func uniqueStrings(s []string) []string {
	newSlice := make([]string, 0, len(s))
	m := make(map[string]bool)
	for _, item := range s {
		if item == "" {
			continue
		}
		if _, exist := m[item]; !exist {
			newSlice = append(newSlice, item)
			m[item] = true
		}
	}
	return newSlice
}
