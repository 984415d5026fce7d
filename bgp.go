/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: bgp.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	yaml "gopkg.in/yaml.v3"
)

const defaultPeerCommitDescription = "updated from panops"

// 'peerChange' describes a BGP peer rename and the commits that roll it out
type peerChange struct {
	Template      string   `yaml:"template"`
	VirtualRouter string   `yaml:"virtual_router"`
	PeerGroup     string   `yaml:"peer_group"`
	Peer          string   `yaml:"peer"`
	NewName       string   `yaml:"new_name"`
	Description   string   `yaml:"description"`
	Admins        []string `yaml:"admins"`
	DeviceGroups  []string `yaml:"device_groups"`
}

type peerChangeTarget interface {
	renameBgpPeer(tmpl, vr, pg, oldName, newName string) error
	committer
}

// Load a change plan from a YAML file
func loadPeerChange(path string) (peerChange, error) {
	var c peerChange
	fBytes, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err = yaml.Unmarshal(fBytes, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

func (c peerChange) validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"template", c.Template},
		{"virtual_router", c.VirtualRouter},
		{"peer_group", c.PeerGroup},
		{"peer", c.Peer},
		{"new_name", c.NewName},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	if c.Peer != "" && c.Peer == c.NewName {
		errs = append(errs, errors.New("new_name must differ from peer"))
	}
	return errors.Join(errs...)
}

// updateBgpPeer renames the peer, commits Panorama and pushes the listed
// device groups. The first failure stops the rollout.
func updateBgpPeer(ctx context.Context, t peerChangeTarget, w jobWaiter, c peerChange, out io.Writer, log *slog.Logger) error {
	if err := c.validate(); err != nil {
		return err
	}
	description := c.Description
	if description == "" {
		description = defaultPeerCommitDescription
	}

	log.Info("renaming bgp peer", "template", c.Template, "virtual_router", c.VirtualRouter,
		"peer_group", c.PeerGroup, "peer", c.Peer, "new_name", c.NewName)
	if err := t.renameBgpPeer(c.Template, c.VirtualRouter, c.PeerGroup, c.Peer, c.NewName); err != nil {
		return err
	}
	fmt.Fprintf(out, "BGP peer '%s' renamed to '%s'\n", c.Peer, c.NewName)

	if err := commitAndWait(ctx, t, w, description, c.Admins, out, log); err != nil {
		return err
	}
	if len(c.DeviceGroups) == 0 {
		return nil
	}
	_, err := pushAndWait(ctx, t, w, uniqueStrings(c.DeviceGroups), description, out, log)
	return err
}
