package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/termpulse/termpulse/internal/config"
	"github.com/termpulse/termpulse/internal/statedb"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	sessionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	countStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// badgeTotal sums positive pending counts. The externally visible badge is
// forced to 0 while the preference is off; the per-session counts stay.
func badgeTotal(pending map[string]int, badgeEnabled bool) int {
	if !badgeEnabled {
		return 0
	}
	total := 0
	for _, n := range pending {
		if n > 0 {
			total += n
		}
	}
	return total
}

func openStateDB() (*statedb.StateDB, error) {
	home, err := config.Dir()
	if err != nil {
		return nil, err
	}
	db, err := statedb.Open(filepath.Join(home, "state.db"))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	quiet := fs.Bool("quiet", false, "Print only the badge count")
	fs.BoolVar(quiet, "q", false, "Print only the badge count (shorthand)")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Println("Usage: termpulse status [options]")
		fmt.Println()
		fmt.Println("Shows pending completion counts per session and the aggregate")
		fmt.Println("badge count.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  termpulse status")
		fmt.Println("  termpulse status -q     # badge count only, for prompts and scripts")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	db, err := openStateDB()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
	defer db.Close()

	pending, err := db.LoadPending()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}

	badgeEnabled := true
	if path, err := config.Path(); err == nil {
		if cfg, err := config.Load(path); err == nil {
			badgeEnabled = cfg.Notifications.Badge
		}
	}
	badge := badgeTotal(pending, badgeEnabled)

	if *jsonOut {
		out := map[string]any{
			"badge":   badge,
			"pending": pending,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	if *quiet {
		fmt.Println(badge)
		return
	}

	fmt.Println(titleStyle.Render("termpulse status"))
	if len(pending) == 0 {
		fmt.Println(dimStyle.Render("  no pending completions"))
		return
	}

	sessions := make([]string, 0, len(pending))
	for id := range pending {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)

	for _, id := range sessions {
		fmt.Printf("  %s  %s\n",
			sessionStyle.Render(id),
			countStyle.Render(fmt.Sprintf("%d pending", pending[id])))
	}
	fmt.Printf("\n  badge: %s\n", countStyle.Render(fmt.Sprintf("%d", badge)))
}

func handleEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum events to show")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Println("Usage: termpulse events [options]")
		fmt.Println()
		fmt.Println("Shows recent completion events, newest first.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	db, err := openStateDB()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
	defer db.Close()

	events, err := db.RecentEvents(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(events)
		return
	}

	if len(events) == 0 {
		fmt.Println(dimStyle.Render("no completion events recorded"))
		return
	}

	for _, ev := range events {
		when := ev.CreatedAt.Local().Format(time.Stamp)
		line := fmt.Sprintf("%s  %s", dimStyle.Render(when), sessionStyle.Render(ev.SessionID))
		if ev.Payload != "" {
			line += "  " + ev.Payload
		}
		if ev.Suppressed {
			line += "  " + dimStyle.Render("(foreground, suppressed)")
		}
		fmt.Println(line)
	}
}

func handleConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: termpulse config <show|path|init>")
		fmt.Println()
		fmt.Println("Subcommands:")
		fmt.Println("  show    Print the effective configuration")
		fmt.Println("  path    Print the config file path")
		fmt.Println("  init    Write a config file with defaults (if absent)")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	sub := "show"
	if fs.NArg() > 0 {
		sub = fs.Arg(0)
	}

	path, err := config.Path()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch sub {
	case "path":
		fmt.Println(path)
	case "init":
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("Config already exists at %s\n", path)
			return
		}
		if err := config.Save(path, config.Default()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	case "show":
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(dimStyle.Render("# " + path))
		printConfig(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", sub)
		fs.Usage()
		os.Exit(1)
	}
}

func printConfig(cfg *config.Config) {
	fmt.Println(titleStyle.Render("[notifications]"))
	fmt.Printf("  badge = %v\n", cfg.Notifications.Badge)
	fmt.Printf("  desktop = %v\n", cfg.Notifications.Desktop)
	fmt.Printf("  sound = %v\n", cfg.Notifications.Sound)
	fmt.Printf("  max_per_minute = %d\n", cfg.Notifications.MaxPerMinute)
	fmt.Println(titleStyle.Render("[scanner]"))
	fmt.Printf("  soft_limit_bytes = %d\n", cfg.Scanner.SoftLimitBytes)
	fmt.Printf("  hard_limit_bytes = %d\n", cfg.Scanner.HardLimitBytes)
	fmt.Printf("  tail_window_bytes = %d\n", cfg.Scanner.TailWindowBytes)
	fmt.Println(titleStyle.Render("[web]"))
	fmt.Printf("  enabled = %v\n", cfg.Web.Enabled)
	fmt.Printf("  listen = %s\n", cfg.Web.Listen)
	if cfg.Web.PushSubject != "" {
		fmt.Printf("  push_subject = %s\n", cfg.Web.PushSubject)
	}
	fmt.Println(titleStyle.Render("[logs]"))
	fmt.Printf("  level = %s\n", cfg.Logs.Level)
	fmt.Printf("  max_size_mb = %d\n", cfg.Logs.MaxSizeMB)
	fmt.Printf("  max_backups = %d\n", cfg.Logs.MaxBackups)
}
