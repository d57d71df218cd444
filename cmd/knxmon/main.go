// knxmon is a command-line companion to knxbridge for looking at a KNX
// installation: it follows bus traffic, reads and writes single group
// addresses, and lists what the bridge's address recorder has seen.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/infrastructure/database"
	"github.com/nerrad567/knxbridge/internal/knx"
	"github.com/nerrad567/knxbridge/internal/recorder"
	"github.com/nerrad567/knxbridge/migrations"
)

const (
	defaultGatewayURL = "tcp://localhost:6720"
	defaultDBPath     = "./data/knxbridge.db"
	defaultTimeout    = 5 * time.Second
)

var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := runCommand(ctx, os.Stdout, os.Args[1], os.Args[2:])
	if errors.Is(err, errUsage) {
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("knxmon - KNX bus and recorder tool")
	fmt.Println()
	yellow.Println("Usage:")
	fmt.Println("  knxmon <command> [flags] [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  monitor                    Follow write and response telegrams")
	fmt.Println("  read <ga>                  Read a group address")
	fmt.Println("  write <ga> <dpt> <value>   Write a value to a group address")
	fmt.Println("  addresses                  List recorded group addresses")
	fmt.Println("  devices                    List recorded devices")
	fmt.Println("  migrations [action]        Recorder schema: status (default), up or down")
	fmt.Println()
	yellow.Println("Flags:")
	fmt.Println("  -gateway URL   knxd address (env KNXBRIDGE_GATEWAY_URL, default " + defaultGatewayURL + ")")
	fmt.Println("  -db PATH       recorder database (env KNXBRIDGE_DATABASE_PATH, default " + defaultDBPath + ")")
	fmt.Println("  -timeout DUR   read/write timeout (default 5s)")
	fmt.Println("  -dpt DPT       decode reads with this datapoint type")
	fmt.Println("  -count N       stop monitoring after N telegrams")
	fmt.Println("  -limit N       maximum rows to list")
}

// runCommand dispatches one subcommand, writing its output to out.
func runCommand(ctx context.Context, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "monitor":
		return cmdMonitor(ctx, out, args)
	case "read":
		return cmdRead(ctx, out, args)
	case "write":
		return cmdWrite(ctx, out, args)
	case "addresses":
		return cmdAddresses(ctx, out, args)
	case "devices":
		return cmdDevices(ctx, out, args)
	case "migrations":
		return cmdMigrations(ctx, out, args)
	case "help", "-h", "--help":
		return errUsage
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func gatewayFlag(fs *flag.FlagSet) *string {
	return fs.String("gateway", envOr("KNXBRIDGE_GATEWAY_URL", defaultGatewayURL), "knxd address")
}

func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db", envOr("KNXBRIDGE_DATABASE_PATH", defaultDBPath), "recorder database")
}

// connect attaches a bus client to the gateway. Observers must be passed
// here so they are registered before the monitor attaches.
func connect(ctx context.Context, gatewayURL string, timeout time.Duration, observers ...busclient.Observer) (*busclient.Client, error) {
	dialer, err := knx.ParseDialer(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway address: %w", err)
	}
	bus := busclient.New(busclient.KNXD(dialer), busclient.Config{
		ConnectTimeout: timeout,
		RequestTimeout: timeout,
		ReadTimeout:    timeout,
	})
	for _, o := range observers {
		bus.AddObserver(o)
	}
	if err := bus.Connect(ctx); err != nil {
		bus.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("connecting to gateway %s: %w", dialer, err)
	}
	return bus, nil
}

// printer writes one coloured line per observed telegram.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	limit int
	seen  int
	done  chan struct{}
}

func newPrinter(out io.Writer, limit int) *printer {
	return &printer{out: out, limit: limit, done: make(chan struct{})}
}

func (p *printer) OnWrite(e busclient.Event)    { p.print(e, color.New(color.FgGreen)) }
func (p *printer) OnResponse(e busclient.Event) { p.print(e, color.New(color.FgCyan)) }

func (p *printer) print(e busclient.Event, kind *color.Color) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.seen >= p.limit {
		return
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(p.out, "%s ", ts.Format("15:04:05.000"))
	kind.Fprintf(p.out, "%-8s ", e.Kind)
	fmt.Fprintf(p.out, "%s -> %s", e.Source, e.Destination)
	if e.DPT != "" {
		color.New(color.FgYellow).Fprintf(p.out, "  DPT%s %v", e.DPT, e.Value)
	}
	fmt.Fprintf(p.out, "  [%s]\n", e.Payload)

	p.seen++
	if p.limit > 0 && p.seen == p.limit {
		close(p.done)
	}
}

func cmdMonitor(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("monitor")
	gateway := gatewayFlag(fs)
	count := fs.Int("count", 0, "stop after N telegrams")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	p := newPrinter(out, *count)
	bus, err := connect(ctx, *gateway, defaultTimeout, p)
	if err != nil {
		return err
	}
	defer bus.Close() //nolint:errcheck // Best-effort on exit

	color.New(color.FgCyan).Fprintf(out, "Monitoring %s (Ctrl+C to stop)\n", *gateway)

	select {
	case <-ctx.Done():
	case <-p.done:
	}
	return nil
}

func cmdRead(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("read")
	gateway := gatewayFlag(fs)
	timeout := fs.Duration("timeout", defaultTimeout, "read timeout")
	dptFlag := fs.String("dpt", "", "decode with this datapoint type")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: read takes one group address", errUsage)
	}
	ga := fs.Arg(0)

	var dpt knx.DPT
	if *dptFlag != "" {
		var err error
		if dpt, err = knx.ParseDPT(*dptFlag); err != nil {
			return err
		}
	}

	bus, err := connect(ctx, *gateway, *timeout)
	if err != nil {
		return err
	}
	defer bus.Close() //nolint:errcheck // Best-effort on exit

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	payload, err := bus.Read(ga).Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("reading %s: %w", ga, err)
	}

	var value any
	if dpt != "" {
		if value, err = payload.Decode(dpt); err != nil {
			return fmt.Errorf("decoding %s as DPT%s: %w", ga, dpt, err)
		}
	} else {
		dpt, value = knx.GuessValue(payload, false)
	}

	color.New(color.FgGreen).Fprintf(out, "%s", ga)
	fmt.Fprintf(out, " = %v", value)
	if dpt != "" {
		color.New(color.FgYellow).Fprintf(out, "  DPT%s", dpt)
	}
	fmt.Fprintf(out, "  [%s]\n", payload)
	return nil
}

func cmdWrite(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("write")
	gateway := gatewayFlag(fs)
	timeout := fs.Duration("timeout", defaultTimeout, "write timeout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("%w: write takes a group address, a DPT and a value", errUsage)
	}
	ga := fs.Arg(0)
	dpt, err := knx.ParseDPT(fs.Arg(1))
	if err != nil {
		return err
	}
	value := parseValue(fs.Arg(2))

	// Encode up front so a bad value fails before touching the bus.
	payload, err := knx.Encode(dpt, value)
	if err != nil {
		return err
	}

	bus, err := connect(ctx, *gateway, *timeout)
	if err != nil {
		return err
	}
	defer bus.Close() //nolint:errcheck // Best-effort on exit

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := bus.Write(ga, dpt, value).Err(waitCtx); err != nil {
		return fmt.Errorf("writing %s: %w", ga, err)
	}

	color.New(color.FgGreen).Fprintf(out, "%s", ga)
	fmt.Fprintf(out, " <- %s  DPT%s  [%s]\n", fs.Arg(2), dpt, payload)
	return nil
}

// parseValue turns a command-line value into a number when it looks like
// one. Anything else (on, off, true, false) is passed through as a string.
func parseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return strings.ToLower(s)
}

func openDatabase(path string) (*database.DB, error) {
	db, err := database.Open(database.Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func openRecorder(ctx context.Context, path string) (*database.DB, *recorder.Recorder, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, recorder.New(db.DB), nil
}

func cmdAddresses(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("addresses")
	path := dbFlag(fs)
	limit := fs.Int("limit", 0, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	db, rec, err := openRecorder(ctx, *path)
	if err != nil {
		return err
	}
	defer db.Close()

	gas, err := rec.GroupAddresses(ctx, *limit)
	if err != nil {
		return err
	}
	if len(gas) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No group addresses recorded")
		return nil
	}

	color.New(color.FgCyan).Fprintf(out, "Group addresses (%d)\n", len(gas))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ADDRESS\tMESSAGES\tREADABLE\tDPT\tVALUE\tLAST SOURCE\tLAST SEEN")
	fmt.Fprintln(w, "  -------\t--------\t--------\t---\t-----\t-----------\t---------")
	for _, ga := range gas {
		readable := "no"
		if ga.HasReadResponse {
			readable = "yes"
		}
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			ga.Address, ga.MessageCount, readable,
			orDash(ga.GuessedDPT), orDash(ga.GuessedValue), orDash(ga.LastSource),
			ga.LastSeen.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func cmdDevices(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("devices")
	path := dbFlag(fs)
	limit := fs.Int("limit", 0, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	db, rec, err := openRecorder(ctx, *path)
	if err != nil {
		return err
	}
	defer db.Close()

	devices, err := rec.Devices(ctx, *limit)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No devices recorded")
		return nil
	}

	color.New(color.FgCyan).Fprintf(out, "Devices (%d)\n", len(devices))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ADDRESS\tMESSAGES\tFIRST SEEN\tLAST SEEN")
	fmt.Fprintln(w, "  -------\t--------\t----------\t---------")
	for _, d := range devices {
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\n",
			d.Address, d.MessageCount,
			d.FirstSeen.Local().Format(time.DateTime),
			d.LastSeen.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func cmdMigrations(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("migrations")
	path := dbFlag(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	action := "status"
	switch fs.NArg() {
	case 0:
	case 1:
		action = fs.Arg(0)
	default:
		return fmt.Errorf("%w: migrations takes at most one action", errUsage)
	}
	switch action {
	case "status", "up", "down":
	default:
		return fmt.Errorf("%w: unknown migrations action %q", errUsage, action)
	}

	db, err := openDatabase(*path)
	if err != nil {
		return err
	}
	defer db.Close()

	green := color.New(color.FgGreen)
	switch action {
	case "status":
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		green.Fprintln(out, "Migrations applied")
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		green.Fprintln(out, "Rolled back latest migration")
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintf(out, "Migrations (%d applied, %d pending)\n", len(applied), len(pending))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  VERSION\tNAME\tSTATUS")
	fmt.Fprintln(w, "  -------\t----\t------")
	names := migrationNames()
	for _, r := range applied {
		fmt.Fprintf(w, "  %s\t%s\tapplied %s\n", r.Version, orDash(names[r.Version]),
			r.AppliedAt.Local().Format(time.DateTime))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "  %s\t%s\tpending\n", m.Version, m.Name)
	}
	return w.Flush()
}

// migrationNames maps embedded migration versions to their names.
func migrationNames() map[string]string {
	names := make(map[string]string)
	all, err := database.LoadMigrations(migrations.FS)
	if err != nil {
		return names
	}
	for _, m := range all {
		names[m.Version] = m.Name
	}
	return names
}
