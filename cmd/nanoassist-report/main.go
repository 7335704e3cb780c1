// Command nanoassist-report prints the signed-in user's profile and a call
// chart for each of their stores. With --watch it keeps running and prints
// the profile and charts again whenever they change.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/config"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/logging"
	"github.com/nanoassist/dashboard/internal/realtime"
	"github.com/nanoassist/dashboard/internal/repository"
	"github.com/nanoassist/dashboard/internal/service"
)

type options struct {
	email       string
	password    string
	sessionFile string
	dbPath      string
	databaseURL string
	period      domain.Period
	stores      []string
	timezone    string
	watch       bool
	logout      bool
	verbose     bool
}

func parseFlags(args []string) (options, error) {
	fs := pflag.NewFlagSet("nanoassist-report", pflag.ContinueOnError)
	var (
		o      options
		period string
	)
	home, _ := os.UserHomeDir()
	fs.StringVarP(&o.email, "email", "e", "", "sign in with this email instead of the stored session")
	fs.StringVarP(&o.password, "password", "p", "", "password for --email (default $NANOASSIST_PASSWORD)")
	fs.StringVar(&o.sessionFile, "session-file", filepath.Join(home, ".nanoassist", "session"), "where the session token is kept between runs")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database path (default $DATABASE_PATH)")
	fs.StringVar(&o.databaseURL, "database-url", "", "Postgres connection URL (default $DATABASE_URL)")
	fs.StringVar(&period, "period", string(domain.PeriodWeek), "chart period: day, week or month")
	fs.StringSliceVarP(&o.stores, "store", "s", nil, "only chart these stores")
	fs.StringVar(&o.timezone, "timezone", "", "time zone of the chart buckets (default $DASHBOARD_TIMEZONE)")
	fs.BoolVarP(&o.watch, "watch", "w", false, "keep running and print every change")
	fs.BoolVar(&o.logout, "logout", false, "sign out and forget the stored session")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log at debug level")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	p, err := domain.ParsePeriod(period)
	if err != nil {
		return o, err
	}
	o.period = p
	if o.email != "" && o.password == "" {
		o.password = os.Getenv("NANOASSIST_PASSWORD")
	}
	if o.email != "" && o.password == "" {
		return o, errors.New("--email needs --password or NANOASSIST_PASSWORD")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger, logCloser := logging.New(logging.Options{Level: level, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout); err != nil {
		slog.Error("report failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run signs in, resolves the profile and prints the report. In watch mode
// it returns when ctx is done.
func run(ctx context.Context, cfg *config.Config, opts options, out io.Writer) error {
	loc := cfg.Location()
	if opts.timezone != "" {
		l, err := time.LoadLocation(opts.timezone)
		if err != nil {
			return fmt.Errorf("invalid --timezone: %w", err)
		}
		loc = l
	}
	dbPath, dbURL := cfg.DatabasePath, cfg.DatabaseURL
	if opts.dbPath != "" {
		dbPath, dbURL = opts.dbPath, ""
	}
	if opts.databaseURL != "" {
		dbURL = opts.databaseURL
	}

	broker := realtime.NewBroker()
	defer broker.Close()

	db, err := repository.Open(ctx, repository.Options{Path: dbPath, URL: dbURL, Publisher: broker})
	if err != nil {
		return err
	}
	defer db.Close()

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	go func() {
		if err := db.Listen(listenCtx); err != nil {
			slog.Warn("change listener stopped", "error", err)
		}
	}()

	auth := service.NewAuthService(db.Users, db.Profiles, cfg.JWTSecret, cfg.BcryptCost)
	client := service.NewAuthClient(auth, service.FileSessionStore{Path: opts.sessionFile})
	profiles := service.NewProfileService(db.Profiles, nil)
	charts := service.NewChartService(db.Recordings, db.Metrics, service.WithLocation(loc))
	dashboard := service.NewDashboardService(db.Metrics)

	resolver := service.NewResolver(client, profiles, broker, service.WithBootstrapTimeout(cfg.BootstrapTimeout))
	resolver.Init(ctx)
	defer resolver.Teardown()

	if opts.logout {
		if err := resolver.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "signed out")
		return nil
	}

	if opts.email != "" {
		if err := resolver.SignIn(ctx, opts.email, opts.password); err != nil {
			return err
		}
	}
	if err := resolver.WaitReady(ctx); err != nil {
		return err
	}

	snap := resolver.Snapshot()
	if snap.Session == nil {
		return fmt.Errorf("%w: not signed in; pass --email", domain.ErrUnauthorized)
	}

	r := &reporter{
		out:       out,
		charts:    charts,
		dashboard: dashboard,
		period:    opts.period,
		stores:    opts.stores,
	}
	r.print(ctx, snap)
	if !opts.watch {
		return nil
	}

	stopRefresh := client.StartAutoRefresh(ctx)
	defer stopRefresh()
	return r.watch(ctx, resolver, broker)
}

type reporter struct {
	out       io.Writer
	charts    *service.ChartService
	dashboard *service.DashboardService
	period    domain.Period
	stores    []string
}

func (r *reporter) print(ctx context.Context, snap service.ResolverSnapshot) {
	fmt.Fprintln(r.out, service.RenderProfileText(snap.Profile))
	if snap.Session == nil || snap.Profile == nil {
		return
	}
	for _, store := range r.visibleStores(snap.Profile) {
		points, err := r.charts.ChartData(ctx, snap.Session.UserID, store, r.period)
		if err != nil {
			slog.Error("chart data", "store", store, "error", err)
			continue
		}
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, service.RenderChartText(store, r.period, points))

		latest, err := r.dashboard.Latest(ctx, snap.Session.UserID, store)
		if err != nil {
			slog.Error("latest metrics", "store", store, "error", err)
			continue
		}
		fmt.Fprintln(r.out, service.RenderMetricText(latest))
	}
}

// visibleStores is the requested subset of the profile's stores, or all of
// them.
func (r *reporter) visibleStores(p *domain.Profile) []string {
	if len(r.stores) == 0 {
		return p.Stores
	}
	var out []string
	for _, s := range r.stores {
		if p.IsAdmin() || p.HasStore(s) {
			out = append(out, s)
		} else {
			slog.Warn("skipping store outside the profile", "store", s)
		}
	}
	return out
}

// watch prints the report again after every resolver update and after new
// calls of the user, coalescing bursts of inserts.
func (r *reporter) watch(ctx context.Context, resolver *service.Resolver, feed domain.ChangeFeed) error {
	snap := resolver.Snapshot()
	calls, err := feed.Subscribe(ctx, domain.ChangeFilter{
		Table:  domain.TableCallRecordings,
		Column: "user_id",
		Value:  snap.Session.UserID,
		Events: []domain.ChangeType{domain.ChangeInsert},
	})
	if err != nil {
		return err
	}
	defer calls.Unsubscribe()

	redraw := make(chan struct{}, 1)
	debouncer := realtime.NewDebouncer(clock.Real(), time.Second, func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-resolver.Updates():
			if next.State == service.StateUnauthenticated {
				fmt.Fprintln(r.out, "signed out")
				return nil
			}
			snap = next
			fmt.Fprintf(r.out, "\n--- %s ---\n", time.Now().Format(time.TimeOnly))
			r.print(ctx, snap)
		case _, ok := <-calls.C():
			if !ok {
				return nil
			}
			debouncer.Trigger()
		case <-redraw:
			fmt.Fprintf(r.out, "\n--- %s ---\n", time.Now().Format(time.TimeOnly))
			r.print(ctx, snap)
		}
	}
}
