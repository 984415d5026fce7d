/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: job.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PaloAltoNetworks/pango/util"
)

const (
	jobProgressDone   = 100
	jobStatusFinished = "FIN"
	jobResultOK       = "OK"
	jobResultPending  = "PEND"

	jobTypeCommit    = "Commit"
	jobTypeCommitAll = "CommitAll"

	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 120
)

var (
	errJobFailed    = errors.New("job finished with a failed result")
	errJobTimeout   = errors.New("job did not finish within the allowed attempts")
	errMalformedJob = errors.New("malformed job status reply")
)

// jobStatus is one snapshot of a job as reported by 'show jobs id': pango's
// BasicJob plus the id and type the poller checks replies against.
type jobStatus struct {
	util.BasicJob
	ID   uint
	Type string
}

// UnmarshalXML lets pango decode the job body (progress, detail lines,
// per-device results) and picks the id and type out of the same reply.
func (j *jobStatus) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var doc struct {
		ID    uint   `xml:"result>job>id"`
		Type  string `xml:"result>job>type"`
		Inner []byte `xml:",innerxml"`
	}
	if err := d.DecodeElement(&doc, &start); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("<response>")
	buf.Write(doc.Inner)
	buf.WriteString("</response>")
	var basic util.BasicJob
	if err := xml.Unmarshal(buf.Bytes(), &basic); err != nil {
		return err
	}

	*j = jobStatus{BasicJob: basic, ID: doc.ID, Type: strings.TrimSpace(doc.Type)}
	return nil
}

// Devices still committing keep a push job open after it reaches 100 percent
func (j jobStatus) pendingDevices() int {
	n := 0
	for _, dev := range j.Devices {
		if dev.Result == jobResultPending {
			n++
		}
	}
	return n
}

func (j jobStatus) succeeded() bool {
	return j.Progress == jobProgressDone && j.Status == jobStatusFinished && j.Result == jobResultOK && j.pendingDevices() == 0
}

func (j jobStatus) failed() bool {
	return j.Status == jobStatusFinished && j.Result != jobResultOK
}

type jobQuerier interface {
	showJob(id uint) (jobStatus, error)
}

// jobPoller re-queries a job at a fixed interval until it reaches a terminal
// state or runs out of attempts.
type jobPoller struct {
	q           jobQuerier
	interval    time.Duration
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
	log         *slog.Logger
}

func newJobPoller(q jobQuerier, interval time.Duration, maxAttempts int, log *slog.Logger) *jobPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultPollAttempts
	}
	return &jobPoller{
		q:           q,
		interval:    interval,
		maxAttempts: maxAttempts,
		sleep:       sleepContext,
		log:         log,
	}
}

// awaitJob polls job id until it finishes. It returns nil only once the job
// reports 100 percent, FIN and OK. A finished job with any other result
// returns errJobFailed. An empty wantType accepts any job type.
func (jp *jobPoller) awaitJob(ctx context.Context, id uint, wantType string) (jobStatus, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return jobStatus{}, fmt.Errorf("job %d: %w", id, err)
		}
		job, err := jp.q.showJob(id)
		if err != nil {
			return jobStatus{}, fmt.Errorf("job %d: query status: %w", id, err)
		}
		if job.ID == 0 {
			return jobStatus{}, fmt.Errorf("job %d: %w: no job element in reply", id, errMalformedJob)
		}

		log := jp.log.With("job", id, "attempt", attempt)
		switch {
		case job.ID != id:
			log.Warn("status reply is for a different job", "reply_job", job.ID)
		case wantType != "" && job.Type != wantType:
			log.Warn("job is not of the expected type", "type", job.Type, "want", wantType)
		case job.succeeded():
			log.Info("job finished, 100 percent and result is OK", "type", job.Type)
			return job, nil
		case job.failed():
			for _, dev := range job.Devices {
				if dev.Result != jobResultOK {
					log.Error("device commit failed", "serial", dev.Serial, "result", dev.Result)
				}
			}
			log.Error("job finished but result is not OK", "result", job.Result, "progress", job.Progress)
			return job, fmt.Errorf("job %d result %s: %s: %w", id, job.Result, job.Details.String(), errJobFailed)
		case job.Progress == jobProgressDone && job.Status == jobStatusFinished:
			log.Debug("job finished, waiting on device commits", "pending", job.pendingDevices())
		case job.Progress == jobProgressDone:
			log.Debug("job progress is 100 percent but status is not FIN", "status", job.Status)
		default:
			log.Debug("job progress is not 100 percent yet", "progress", job.Progress, "status", job.Status)
		}

		if attempt >= jp.maxAttempts {
			return job, fmt.Errorf("job %d after %d attempts: %w", id, attempt, errJobTimeout)
		}
		if err = jp.sleep(ctx, jp.interval); err != nil {
			return job, fmt.Errorf("job %d: %w", id, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
