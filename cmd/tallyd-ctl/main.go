// Package main provides the tallyd-ctl CLI for inspecting and exercising
// a running tallyd service.
//
// Usage:
//
//	tallyd-ctl count [--addr http://localhost:8080]
//	tallyd-ctl send [--addr http://localhost:8080] --bucket <name> --key <object> [--n 1] [--source aws.s3] [--event GetObject]
//	tallyd-ctl health [--addr http://localhost:8080]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tallyd/tallyd/pkg/audit"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "count":
		runCount(os.Args[2:])
	case "send":
		runSend(os.Args[2:])
	case "health":
		runHealth(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, "tallyd-ctl — tallyd admin CLI\n\n")
	fmt.Fprint(os.Stderr, "Usage:\n")
	fmt.Fprint(os.Stderr, "  tallyd-ctl <command> [flags]\n\n")
	fmt.Fprint(os.Stderr, "Commands:\n")
	fmt.Fprint(os.Stderr, "  count    Show the current access count\n")
	fmt.Fprint(os.Stderr, "  send     Deliver synthetic read-access events\n")
	fmt.Fprint(os.Stderr, "  health   Show service health\n\n")
	fmt.Fprint(os.Stderr, "Use \"tallyd-ctl <command> --help\" for more information about a command.\n")
}

func runCount(args []string) {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "tallyd ingest address")
	fs.Parse(args)

	resp, err := httpClient().Get(*addr + "/api/v1/count")
	if err != nil {
		fatal("count: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Key   string `json:"key"`
		Count string `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatal("count: decode: %v", err)
	}
	fmt.Printf("%s\t%s\n", out.Key, out.Count)
}

func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "tallyd ingest address")
	bucket := fs.String("bucket", "", "container name (required)")
	key := fs.String("key", "", "object key (required)")
	n := fs.Int("n", 1, "number of events to send")
	source := fs.String("source", "aws.s3", "audit event source")
	eventName := fs.String("event", "GetObject", "audited operation name")
	fs.Parse(args)

	if *bucket == "" || *key == "" {
		fatal("send: --bucket and --key are required")
	}

	events := make([]audit.Event, 0, *n)
	for i := 0; i < *n; i++ {
		evt := audit.NewReadEvent(*source, *bucket, *key)
		evt.Detail.EventName = *eventName
		events = append(events, evt)
	}
	data, err := json.Marshal(events)
	if err != nil {
		fatal("send: marshal: %v", err)
	}

	resp, err := httpClient().Post(*addr+"/api/v1/events", "application/json", bytes.NewReader(data))
	if err != nil {
		fatal("send: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fatal("send: status %d: %s", resp.StatusCode, body)
	}
	fmt.Printf("%s", body)
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "tallyd ingest address")
	fs.Parse(args)

	resp, err := httpClient().Get(*addr + "/healthz")
	if err != nil {
		fatal("health: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s", body)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
