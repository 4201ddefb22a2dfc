package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// liveCmd queries a running game daemon over its local API.
func liveCmd(args []string) {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8787", "game daemon base url")
	_ = fs.Parse(args)

	what := "state"
	if fs.NArg() > 0 {
		what = strings.TrimSpace(fs.Arg(0))
	}
	var path string
	switch what {
	case "state":
		path = "/v1/state"
	case "upgrades":
		path = "/v1/upgrades"
	case "mp":
		path = "/v1/mp/status"
	case "metrics":
		path = "/metrics"
	default:
		fmt.Fprintln(os.Stderr, "unknown live query:", what, "(want state|upgrades|mp|metrics)")
		os.Exit(2)
	}

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + path
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
