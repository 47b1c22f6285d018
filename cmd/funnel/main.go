package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	_ "time/tzdata" // accident dates are judged in America/New_York

	"github.com/AnarchoFatSats/comercial-mva/pkg/config"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "walk":
		return runWalkCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Commercial MVA funnel %s\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  funnel <command> [flags]")
	fmt.Fprintln(w, "")
	printCommand(w, "serve", "Run the funnel and ingestion server (default)")
	printCommand(w, "validate", "Check funnel definitions (files or directories)")
	printCommand(w, "walk", "Walk a funnel with scripted answers and print the verdict")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

// healthURL is a variable so tests can point the check at a fake server.
var healthURL = func() string {
	port := "8080"
	if cfg, err := config.Load(); err == nil {
		port = cfg.Port
	}
	return "http://localhost:" + port + "/healthz"
}

func runHealthCmd(out, errOut io.Writer) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(healthURL())
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
