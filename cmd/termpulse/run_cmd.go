package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/termpulse/termpulse/internal/attention"
	"github.com/termpulse/termpulse/internal/config"
	"github.com/termpulse/termpulse/internal/logging"
	"github.com/termpulse/termpulse/internal/oscscan"
	"github.com/termpulse/termpulse/internal/ptyhost"
	"github.com/termpulse/termpulse/internal/router"
	"github.com/termpulse/termpulse/internal/shell"
	"github.com/termpulse/termpulse/internal/statedb"
	"github.com/termpulse/termpulse/internal/web"
)

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	session := fs.String("session", "", "Session name (default: command basename)")
	webMode := fs.Bool("web", false, "Start the web bridge even if disabled in config")
	listen := fs.String("listen", "", "Web listen address (overrides config)")
	token := fs.String("token", "", "Web auth token (default: TERMPULSE_TOKEN)")
	workDir := fs.String("dir", "", "Working directory for the command")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Println("Usage: termpulse run [options] -- <command> [args...]")
		fmt.Println()
		fmt.Println("Runs a command under a monitored PTY. While you are attached the")
		fmt.Println("command behaves like a normal shell job; press Ctrl+Q to detach.")
		fmt.Println("Agent turn completions raise notifications and the badge count")
		fmt.Println("whenever the session is not in the foreground.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  termpulse run -- claude")
		fmt.Println("  termpulse run -session review -web -- claude")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	command := fs.Args()
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no command given")
		fs.Usage()
		os.Exit(1)
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = filepath.Base(command[0])
	}

	cfgPath, err := config.Path()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	store := config.NewStore(cfg)

	home, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logs.Level
	if *debug {
		level = "debug"
	}
	logging.Init(logging.Config{
		LogDir:     home,
		Level:      level,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		Debug:      *debug,
	})
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompConfig)

	watcher, err := config.NewWatcher(cfgPath, store, nil)
	if err != nil {
		log.Warn("config_watch_unavailable", slog.String("error", err.Error()))
	} else {
		go watcher.Start()
		defer watcher.Stop()
	}

	db, err := statedb.Open(filepath.Join(home, "state.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening state database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error migrating state database: %v\n", err)
		os.Exit(1)
	}

	host := ptyhost.New()
	rt := router.New(host)
	focus := attention.NewFocusTracker()
	desktop := shell.NewDesktop(cfg.Notifications.MaxPerMinute)
	policy := attention.NewPolicy(store, desktop, focus, db)

	if counts, err := db.LoadPending(); err != nil {
		log.Warn("pending_restore_failed", slog.String("error", err.Error()))
	} else {
		policy.Restore(counts)
	}

	// srv is assigned after the binder exists; the sink closure picks up
	// the final value, so background completions reach push subscribers.
	var srv *web.Server

	sink := func(msg oscscan.Message, sid string) {
		policy.HandleMessage(msg, sid)
		if srv != nil && msg.Terminal && !focus.IsForeground(sid) {
			srv.NotifyCompletion(sid, msg.Payload)
		}
	}

	limits := oscscan.Limits{
		SoftMaxBytes:    cfg.Scanner.SoftLimitBytes,
		HardMaxBytes:    cfg.Scanner.HardLimitBytes,
		TailWindowBytes: cfg.Scanner.TailWindowBytes,
	}
	binder := attention.NewBinder(rt, limits, sink)
	defer binder.Close()

	if *webMode || cfg.Web.Enabled {
		srv = buildWebServer(cfg, *listen, *token, policy, binder, db, host, rt)
	}

	// Bindings are persisted so status can attribute events after restart.
	exitSub := rt.SubscribeExit(func(channelID string, exitCode int) {
		if err := db.DeleteBinding(channelID); err != nil {
			log.Warn("binding_delete_failed", slog.String("error", err.Error()))
		}
	})
	defer exitSub.Cancel()

	ch, err := host.Spawn(ptyhost.SpawnOptions{
		Command: command[0],
		Args:    command[1:],
		Dir:     *workDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting command: %v\n", err)
		os.Exit(1)
	}
	binder.Bind(sessionID, ch.ID)
	if err := db.SaveBinding(ch.ID, sessionID); err != nil {
		log.Warn("binding_save_failed", slog.String("error", err.Error()))
	}

	focus.SetActiveSession(sessionID)
	focus.SetWindowFocused(true)
	focus.SetVisible(true)
	// Attaching makes the session active and foreground, which clears any
	// pending count carried over from a previous run.
	policy.ClearSession(sessionID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if srv != nil {
		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
		fmt.Fprintf(os.Stderr, "termpulse: web bridge on http://%s\r\n", srv.Addr())
	}

	g.Go(func() error {
		fmt.Fprint(os.Stderr, "termpulse: press Ctrl+Q to detach\r\n")
		err := ptyhost.Attach(ctx, rt, ch)
		focus.SetWindowFocused(false)
		if err != nil {
			return err
		}
		select {
		case <-ch.Done():
			// Command already exited; nothing to wait for.
		default:
			if ch.Alive() {
				fmt.Fprintf(os.Stderr, "termpulse: detached from %q, still running\n", sessionID)
				select {
				case <-ch.Done():
				case <-ctx.Done():
				}
			}
		}
		stop()
		return nil
	})

	err = g.Wait()
	host.CloseAll()
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if code := ch.ExitCode(); code > 0 {
		os.Exit(code)
	}
}

func buildWebServer(cfg *config.Config, listen, token string, policy *attention.Policy, binder *attention.Binder, db *statedb.StateDB, host *ptyhost.Host, rt *router.Router) *web.Server {
	webLog := logging.ForComponent(logging.CompWeb)

	addr := listen
	if addr == "" {
		addr = cfg.Web.Listen
	}
	if token == "" {
		token = os.Getenv("TERMPULSE_TOKEN")
	}

	var pubKey, privKey string
	if cfg.Web.PushSubject != "" {
		var generated bool
		var err error
		pubKey, privKey, generated, err = web.EnsurePushVAPIDKeys(cfg.Web.PushSubject)
		if err != nil {
			webLog.Warn("vapid_keys_unavailable", slog.String("error", err.Error()))
		} else if generated {
			webLog.Info("vapid_keys_generated")
		}
	}

	srv := web.NewServer(web.Config{
		ListenAddr:          addr,
		Token:               token,
		PushVAPIDPublicKey:  pubKey,
		PushVAPIDPrivateKey: privKey,
		PushVAPIDSubject:    cfg.Web.PushSubject,
		State:               policy,
		Binder:              binder,
		Events:              db,
		Channels:            host,
		Router:              rt,
	})
	policy.OnBadge(srv.NotifyBadge)
	return srv
}
