/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: main.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-ping/ping"
	"github.com/howeyc/gopass"
	"github.com/spf13/cobra"
)

const (
	version     = "1.0"
	pktCount    = 4 // How many ping packets to send to the Panorama host
	pingTimeout = 5 * time.Second
)

// Root flags; zero values leave the .env/environment setting alone
type rootOpts struct {
	envFile      string
	host         string
	user         string
	ask          bool
	ping         bool
	verifyCert   bool
	debug        bool
	logFormat    string
	timeout      time.Duration
	pollInterval time.Duration
	pollAttempts int
}

type app struct {
	opts rootOpts
	cfg  config
	log  *slog.Logger
	out  io.Writer
	dial func(config) (panClient, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := buildRootCmd(newApp(os.Stdout)).ExecuteContext(ctx)
	stop()
	handleError(err)
}

func newApp(out io.Writer) *app {
	return &app{out: out, log: slog.Default(), dial: dialPanorama}
}

func dialPanorama(cfg config) (panClient, error) {
	pn, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return pn, nil
}

func buildRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "panops",
		Short: "Panorama automation tasks",
		Long: `Panorama automation tasks built on the pango SDK.

Credentials come from the environment or a .env file:
  PANURL   Panorama hostname (default panorama.lab.com)
  PANUSER  username (default automation)
  PANPASS  password
  PANKEY   API key (generated from PANUSER/PANPASS when empty)
  PANPOLL  job poll interval, e.g. 5s
  PANPOLLMAX  job poll attempts before giving up (default 120)`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	f := rootCmd.PersistentFlags()
	f.StringVar(&a.opts.envFile, "env-file", defaultEnvFile, "Environment file to load")
	f.StringVarP(&a.opts.host, "host", "p", "", "Panorama IP Address/hostname (overrides PANURL)")
	f.StringVarP(&a.opts.user, "user", "u", "", "Panorama username (overrides PANUSER)")
	f.BoolVar(&a.opts.ask, "ask", false, "Prompt for Panorama credentials")
	f.BoolVar(&a.opts.ping, "ping", false, "Ping Panorama before connecting")
	f.BoolVar(&a.opts.verifyCert, "verify-cert", false, "Verify the TLS certificate on raw API calls")
	f.BoolVar(&a.opts.debug, "debug", false, "Debug logging")
	f.StringVar(&a.opts.logFormat, "log-format", "", "Log format: text or json")
	f.DurationVar(&a.opts.timeout, "timeout", 0, "Overall time limit for the task (0 = none)")
	f.DurationVar(&a.opts.pollInterval, "poll-interval", 0, "Time between job status queries (overrides PANPOLL)")
	f.IntVar(&a.opts.pollAttempts, "poll-attempts", 0, "Job status queries before giving up (overrides PANPOLLMAX)")

	rootCmd.AddCommand(
		buildExportRulesCmd(a),
		buildSSLExcludeCmd(a),
		buildBgpPeerCmd(a),
		buildCommitCmd(a),
		buildPushCmd(a),
		buildJobCmd(a),
		buildVersionCmd(a),
	)
	return rootCmd
}

// Loads the configuration and applies the root flags on top of it
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(a.opts.envFile)
	if err != nil {
		return err
	}
	if a.opts.host != "" {
		cfg.Host = a.opts.host
	}
	if a.opts.user != "" {
		cfg.User = a.opts.user
	}
	if a.opts.logFormat != "" {
		cfg.LogFormat = a.opts.logFormat
	}
	if a.opts.pollInterval > 0 {
		cfg.PollInterval = a.opts.pollInterval
	}
	if cmd.Flags().Changed("poll-attempts") {
		if a.opts.pollAttempts < 1 {
			return fmt.Errorf("--poll-attempts must be at least 1, got %d", a.opts.pollAttempts)
		}
		cfg.PollAttempts = a.opts.pollAttempts
	}
	cfg.Ask = a.opts.ask
	cfg.Ping = a.opts.ping
	cfg.Debug = a.opts.debug
	cfg.Insecure = !a.opts.verifyCert

	log, err := newLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	a.cfg, a.log = cfg, log
	return nil
}

// Returns the command context, bounded by --timeout when set
func (a *app) taskContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if a.opts.timeout > 0 {
		return context.WithTimeout(cmd.Context(), a.opts.timeout)
	}
	return context.WithCancel(cmd.Context())
}

// Connects to Panorama, prompting and pinging first when asked to
func (a *app) open() (panClient, error) {
	if a.cfg.Ask {
		fmt.Fprintln(a.out, `
 ********************************
 *| Enter Panorama Credentials |*
 ********************************`)
		user, pass, err := getCreds(a.cfg.User)
		if err != nil {
			return nil, err
		}
		a.cfg.User, a.cfg.Password = user, pass
		a.cfg.APIKey = ""
	}
	if a.cfg.Ping {
		a.log.Info("pinging host to see if it is online", "host", a.cfg.Host)
		ok, err := pinger(a.cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("ping %s: %w", a.cfg.Host, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s - is unresponsive", a.cfg.Host)
		}
	}
	a.log.Debug("connecting", "host", a.cfg.Host, "user", a.cfg.User)
	pn, err := a.dial(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect - ensure you have valid credentials and/or that (%s) is online/valid: %w", a.cfg.Host, err)
	}
	return pn, nil
}

func (a *app) poller(q jobQuerier) *jobPoller {
	return newJobPoller(q, a.cfg.PollInterval, a.cfg.PollAttempts, a.log)
}

// Returns the poller, or nil when the caller should not wait on jobs
func (a *app) waiter(q jobQuerier, noWait bool) jobWaiter {
	if noWait {
		return nil
	}
	return a.poller(q)
}

func (a *app) admins(admins []string) []string {
	if len(admins) == 0 {
		return []string{a.cfg.User}
	}
	return admins
}

func buildExportRulesCmd(a *app) *cobra.Command {
	var (
		output string
		dgs    []string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "export-rules",
		Short: "Export security rules and their profile groups to CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pn, err := a.open()
			if err != nil {
				return err
			}
			groups, err := exportDeviceGroups(pn, all, dgs)
			if err != nil {
				return err
			}
			a.log.Info("exporting security rules", "device_groups", groups, "output", output)
			n, err := exportRules(pn, groups, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Exported %d rules to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", defaultRulesFile, "CSV file to write")
	cmd.Flags().StringSliceVar(&dgs, "device-group", nil, "Device group(s) to export (default shared)")
	cmd.Flags().BoolVar(&all, "all-device-groups", false, "Export every device group and shared")
	return cmd
}

func buildSSLExcludeCmd(a *app) *cobra.Command {
	var (
		name, description, template string
		xpath, element              string
		dryRun                      bool
	)
	cmd := &cobra.Command{
		Use:   "ssl-exclude",
		Short: "Exclude a server name from SSL decryption in a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if xpath == "" {
				var err error
				if xpath, err = exclusionXPath(template); err != nil {
					return err
				}
			}
			if element == "" {
				element = exclusionEntry(name, description)
			}
			endpoint := buildEndpoint(a.cfg.Host, xpath, element)
			if dryRun {
				fmt.Fprintln(a.out, endpoint)
				return nil
			}

			key := a.cfg.APIKey
			if key == "" || a.cfg.Ask {
				pn, err := a.open()
				if err != nil {
					return err
				}
				key = pn.apiKey()
			}

			ctx, cancel := a.taskContext(cmd)
			defer cancel()
			res, err := sendMutation(ctx, newMutationClient(a.cfg.Insecure), endpoint, key)
			if err != nil {
				return fmt.Errorf("config set: %w", err)
			}
			a.log.Debug("config set reply", "status", res.StatusCode)
			fmt.Fprintln(a.out, string(res.Body))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", defaultExcludeName, "Server name to exclude")
	cmd.Flags().StringVar(&description, "description", defaultExcludeDescription, "Exclusion description")
	cmd.Flags().StringVar(&template, "template", defaultExcludeTemplate, "Template holding the exclusion list")
	cmd.Flags().StringVar(&xpath, "xpath", "", "Raw xpath (overrides --template)")
	cmd.Flags().StringVar(&element, "element", "", "Raw XML element (overrides --name/--description)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the endpoint without sending it")
	return cmd
}

func buildBgpPeerCmd(a *app) *cobra.Command {
	var (
		plan   string
		change peerChange
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "bgp-peer",
		Short: "Rename a BGP peer, commit, and push device groups",
		Long: `Rename a BGP peer in a template virtual router, commit Panorama and push
the listed device groups, waiting on every job. The change can be given as a
YAML plan (--plan) with flags overriding its fields:

  template: BaseTemplate
  virtual_router: Blue
  peer_group: WAN
  peer: ISP1
  new_name: ATT MPLS
  description: updated from panops
  admins: [automation]
  device_groups: [branch, headquarters]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := peerChange{}
			if plan != "" {
				var err error
				if c, err = loadPeerChange(plan); err != nil {
					return err
				}
			}
			c = mergePeerChange(c, change)
			c.Admins = a.admins(c.Admins)
			if err := c.validate(); err != nil {
				return err
			}

			pn, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.taskContext(cmd)
			defer cancel()
			return updateBgpPeer(ctx, pn, a.waiter(pn, noWait), c, a.out, a.log)
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "YAML change plan")
	cmd.Flags().StringVar(&change.Template, "template", "", "Template")
	cmd.Flags().StringVar(&change.VirtualRouter, "virtual-router", "", "Virtual router")
	cmd.Flags().StringVar(&change.PeerGroup, "peer-group", "", "BGP peer group")
	cmd.Flags().StringVar(&change.Peer, "peer", "", "BGP peer to rename")
	cmd.Flags().StringVar(&change.NewName, "new-name", "", "New peer name")
	cmd.Flags().StringVar(&change.Description, "description", "", "Commit description")
	cmd.Flags().StringSliceVar(&change.Admins, "admin", nil, "Admin(s) whose changes are committed (default the connecting user)")
	cmd.Flags().StringSliceVar(&change.DeviceGroups, "device-group", nil, "Device group(s) to push after the commit")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print job IDs without waiting on them")
	return cmd
}

// Fields set in override replace the ones in base
func mergePeerChange(base, override peerChange) peerChange {
	pick := func(b, o string) string {
		if o != "" {
			return o
		}
		return b
	}
	base.Template = pick(base.Template, override.Template)
	base.VirtualRouter = pick(base.VirtualRouter, override.VirtualRouter)
	base.PeerGroup = pick(base.PeerGroup, override.PeerGroup)
	base.Peer = pick(base.Peer, override.Peer)
	base.NewName = pick(base.NewName, override.NewName)
	base.Description = pick(base.Description, override.Description)
	if len(override.Admins) > 0 {
		base.Admins = override.Admins
	}
	if len(override.DeviceGroups) > 0 {
		base.DeviceGroups = override.DeviceGroups
	}
	return base
}

func buildCommitCmd(a *app) *cobra.Command {
	var (
		description string
		admins      []string
		noWait      bool
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit Panorama and wait for the job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pn, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.taskContext(cmd)
			defer cancel()
			return commitAndWait(ctx, pn, a.waiter(pn, noWait), description, a.admins(admins), a.out, a.log)
		},
	}
	cmd.Flags().StringVar(&description, "description", "committed from panops", "Commit description")
	cmd.Flags().StringSliceVar(&admins, "admin", nil, "Admin(s) whose changes are committed (default the connecting user)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the job ID without waiting on it")
	return cmd
}

func buildPushCmd(a *app) *cobra.Command {
	var (
		description string
		noWait      bool
	)
	cmd := &cobra.Command{
		Use:   "push <device-group>...",
		Short: "Push device groups to their firewalls and wait for the jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pn, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.taskContext(cmd)
			defer cancel()
			_, err = pushAndWait(ctx, pn, a.waiter(pn, noWait), uniqueStrings(args), description, a.out, a.log)
			return err
		},
	}
	cmd.Flags().StringVar(&description, "description", "pushed from panops", "Push description")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the job IDs without waiting on them")
	return cmd
}

func buildJobCmd(a *app) *cobra.Command {
	var wantType string
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Wait for an existing job to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 0)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			pn, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.taskContext(cmd)
			defer cancel()
			job, err := a.poller(pn).awaitJob(ctx, uint(id), wantType)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Job %d (%s) finished: %s\n", job.ID, job.Type, job.Result)
			return nil
		},
	}
	cmd.Flags().StringVar(&wantType, "type", "", "Expected job type, e.g. Commit or CommitAll")
	return cmd
}

func buildVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "Panops Version: %s\n", version)
		},
	}
}

// Gets credentials from the user
func getCreds(defUser string) (user, pass string, err error) {
	s := bufio.NewScanner(os.Stdin)
	fmt.Printf("Username [%s]: ", defUser)
	s.Scan()
	user = strings.TrimSpace(s.Text())
	if user == "" {
		user = defUser
	}
	p, err := gopass.GetPasswdPrompt("Password: ", true, os.Stdin, os.Stdout)
	if err != nil {
		return "", "", err
	}
	pass = string(p)
	return
}

// Pings a host to determine if it receives a response
func pinger(dest string) (bool, error) {
	p, err := ping.NewPinger(dest)
	if err != nil {
		return false, err
	}
	if runtime.GOOS == "windows" {
		p.SetPrivileged(true)
	}
	p.Count = pktCount
	p.Timeout = pingTimeout
	if err = p.Run(); err != nil {
		return false, err
	}
	return p.Statistics().PacketsRecv != 0, nil
}

// For handling non-zero exit errors
func handleError(err error) {
	if err != nil {
		slog.Error("task failed", "error", err)
		os.Exit(1)
	}
}
