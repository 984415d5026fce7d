/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: commit.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

type committer interface {
	commitPanorama(description string, admins []string) (uint, error)
	pushDeviceGroup(dg, description string) (uint, error)
}

type jobWaiter interface {
	awaitJob(ctx context.Context, id uint, wantType string) (jobStatus, error)
}

// This commits Panorama and, unless w is nil, waits for the commit job to finish
func commitAndWait(ctx context.Context, c committer, w jobWaiter, description string, admins []string, out io.Writer, log *slog.Logger) error {
	id, err := c.commitPanorama(description, admins)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if id == 0 {
		log.Info("nothing to commit")
		return nil
	}
	fmt.Fprintf(out, "Commit job: %d\n", id)
	if w == nil {
		return nil
	}
	if _, err = w.awaitJob(ctx, id, jobTypeCommit); err != nil {
		return err
	}
	fmt.Fprintf(out, "Commit job %d finished OK\n", id)
	return nil
}

// This pushes every device group first, then waits on each push job in the same order
func pushAndWait(ctx context.Context, c committer, w jobWaiter, dgs []string, description string, out io.Writer, log *slog.Logger) ([]uint, error) {
	var jobs []uint
	for _, dg := range dgs {
		id, err := c.pushDeviceGroup(dg, description)
		if err != nil {
			return jobs, fmt.Errorf("push device group %q: %w", dg, err)
		}
		log.Info("device group push submitted", "device_group", dg, "job", id)
		jobs = append(jobs, id)
	}
	fmt.Fprintln(out, "Push jobs:", jobs)
	if w == nil {
		return jobs, nil
	}

	for i, id := range jobs {
		if id == 0 {
			log.Info("nothing to push", "device_group", dgs[i])
			continue
		}
		if _, err := w.awaitJob(ctx, id, jobTypeCommitAll); err != nil {
			return jobs, fmt.Errorf("push device group %q: %w", dgs[i], err)
		}
		fmt.Fprintf(out, "Push job %d (%s) finished OK\n", id, dgs[i])
	}
	return jobs, nil
}
