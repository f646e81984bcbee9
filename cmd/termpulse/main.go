package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const Version = "0.3.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal
// capabilities. Prefers TrueColor, falls back to ANSI256.
func initColorProfile() {
	// Allow user override via environment variable
	// TERMPULSE_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("TERMPULSE_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if colorTerm := os.Getenv("COLORTERM"); colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	term := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(term, t) || term == t {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// ANSI256 works in SSH, basic terminals, and older emulators.
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("termpulse v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "run":
			handleRun(args[1:])
			return
		case "status":
			handleStatus(args[1:])
			return
		case "events":
			handleEvents(args[1:])
			return
		case "config":
			handleConfig(args[1:])
			return
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}

	printHelp()
}

func printHelp() {
	fmt.Printf("termpulse v%s - agent completion notifications for your terminals\n", Version)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  termpulse run [options] -- <command> [args...]")
	fmt.Println("  termpulse status [options]")
	fmt.Println("  termpulse events [options]")
	fmt.Println("  termpulse config <show|path|init>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       Run a command under a monitored PTY")
	fmt.Println("  status    Show pending completions and the badge count")
	fmt.Println("  events    Show recent completion events")
	fmt.Println("  config    Inspect or create the config file")
	fmt.Println("  version   Print the version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  termpulse run -session work -- claude")
	fmt.Println("  termpulse run -web -- claude      # with web terminal on 127.0.0.1:8642")
	fmt.Println("  termpulse status -json")
	fmt.Println("  termpulse events -limit 20")
	fmt.Println()
	fmt.Println("While attached: Ctrl+Q detaches, leaving the command running in")
	fmt.Println("the background. Completions then raise notifications and badge counts.")
}
