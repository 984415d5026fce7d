/*
 * Description: Unit tests for main.go and log.go
 * Filename: main_test.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// A Panorama connection assembled from the per-task fakes
type fakeConn struct {
	*fakePanorama
	*fakeRules
	*fakeJobs
	key string
}

func (f fakeConn) apiKey() string { return f.key }

// Returns an app that hands out conn instead of dialing Panorama; a nil conn
// fails any attempt to connect
func testApp(out io.Writer, conn panClient) *app {
	a := newApp(out)
	a.dial = func(config) (panClient, error) {
		if conn == nil {
			return nil, errors.New("no connection expected")
		}
		return conn, nil
	}
	return a
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func TestPingerBadHost(t *testing.T) {
	tests := []struct {
		name string
		host string
	}{
		{"invalid tld", "panorama.invalid"},
		{"invalid tld2", "pano-01.lab.invalid"},
	}

	for _, tt := range tests {
		tt := tt
		tf := func(t *testing.T) {
			t.Parallel()
			got, err := pinger(tt.host)
			if err == nil || got {
				t.Errorf("Expected an error and (false), but received (%v, %v)\n", err, got)
			}
		}

		t.Run(tt.name, tf)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "json", true)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("polling", "job", 7)
	if !strings.Contains(buf.String(), `"job":7`) {
		t.Errorf("Expected a JSON debug line, but received (%s)\n", buf.String())
	}

	buf.Reset()
	log, _ = newLogger(&buf, "text", false)
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected debug lines to be dropped, but received (%s)\n", buf.String())
	}

	if _, err = newLogger(&buf, "xml", false); err == nil {
		t.Error("Expected an error for an unknown format, but received nothing")
	}
}

func TestRootCommands(t *testing.T) {
	root := buildRootCmd(newApp(&bytes.Buffer{}))
	for _, name := range []string{"export-rules", "ssl-exclude", "bgp-peer", "commit", "push", "job", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand (%s), but received (%v)\n", name, err)
		}
	}
}

func TestSSLExcludeDryRun(t *testing.T) {
	clearConfigEnv(t)
	var out bytes.Buffer
	root := buildRootCmd(testApp(&out, nil))
	root.SetArgs([]string{
		"--env-file", missingEnvFile(t),
		"-p", "pano.example.com",
		"ssl-exclude", "--dry-run", "--name", "*.corp.com", "--description", "",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("Expected no error, but received (%v)\n", err)
	}
	want := buildEndpoint("pano.example.com", mustXPath(t, defaultExcludeTemplate), "<entry name='*.corp.com'><exclude>yes</exclude></entry>") + "\n"
	if out.String() != want {
		t.Errorf("Expected (%s), but received (%s)\n", want, out.String())
	}
}

func TestJobCmdRejectsBadID(t *testing.T) {
	clearConfigEnv(t)
	root := buildRootCmd(testApp(&bytes.Buffer{}, nil))
	root.SetArgs([]string{"--env-file", missingEnvFile(t), "job", "abc"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "invalid job id") {
		t.Errorf("Expected an invalid job id error, but received (%v)\n", err)
	}
}

func TestSSLExcludeSends(t *testing.T) {
	tests := []struct {
		name    string
		envKey  string
		conn    panClient
		extra   []string
		wantKey string
		wantErr bool
	}{
		{"key from environment", "ENVKEY", nil, nil, "ENVKEY", false},
		{"key from connection", "", fakeConn{key: "DIALED"}, nil, "DIALED", false},
		{"certificate verified", "ENVKEY", nil, []string{"--verify-cert"}, "", true},
	}

	for _, tt := range tests {
		tf := func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("PANKEY", tt.envKey)

			var gotKey, gotElement string
			hits := 0
			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits++
				gotKey, gotElement = r.Header.Get(apiKeyHeader), r.URL.Query().Get("element")
				w.Write([]byte(`<response status="success" code="20"><msg>command succeeded</msg></response>`))
			}))
			defer srv.Close()

			var out bytes.Buffer
			root := buildRootCmd(testApp(&out, tt.conn))
			args := append([]string{"--env-file", missingEnvFile(t), "-p", strings.TrimPrefix(srv.URL, "https://")}, tt.extra...)
			root.SetArgs(append(args, "ssl-exclude", "--name", "*.corp.com"))
			err := root.Execute()

			if tt.wantErr {
				if err == nil || hits != 0 {
					t.Errorf("Expected a certificate error and no request, but received (%v, %d requests)\n", err, hits)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, but received (%v)\n", err)
			}
			if gotKey != tt.wantKey {
				t.Errorf("Expected key (%s), but received (%s)\n", tt.wantKey, gotKey)
			}
			if want := exclusionEntry("*.corp.com", defaultExcludeDescription); gotElement != want {
				t.Errorf("Expected element (%s), but received (%s)\n", want, gotElement)
			}
			if !strings.Contains(out.String(), "command succeeded") {
				t.Errorf("Expected the reply to be printed, but received (%s)\n", out.String())
			}
		}

		t.Run(tt.name, tf)
	}
}

func TestJobCmdWaitsForJob(t *testing.T) {
	clearConfigEnv(t)
	jobs := &fakeJobs{replies: [][]byte{
		jobXML(12, "CommitAll", "ACT", "PEND", "50"),
		jobXML(12, "CommitAll", "FIN", "OK", "100"),
	}}
	var out bytes.Buffer
	root := buildRootCmd(testApp(&out, fakeConn{fakeJobs: jobs}))
	root.SetArgs([]string{"--env-file", missingEnvFile(t), "--poll-interval", "1ms", "job", "12", "--type", "CommitAll"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Expected no error, but received (%v)\n", err)
	}
	if want := "Job 12 (CommitAll) finished: OK\n"; out.String() != want {
		t.Errorf("Expected (%s), but received (%s)\n", want, out.String())
	}
	if jobs.calls != 2 {
		t.Errorf("Expected (2) queries, but received (%d)\n", jobs.calls)
	}
}

func TestPollAttemptsMustBePositive(t *testing.T) {
	clearConfigEnv(t)
	root := buildRootCmd(testApp(&bytes.Buffer{}, nil))
	root.SetArgs([]string{"--env-file", missingEnvFile(t), "--poll-attempts", "0", "job", "12"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--poll-attempts") {
		t.Errorf("Expected a poll attempts error, but received (%v)\n", err)
	}
}
