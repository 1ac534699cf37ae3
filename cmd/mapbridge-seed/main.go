// Command mapbridge-seed warms a tile cache by requesting a list of URLs
// through it without running a server. URLs are read from the arguments, or
// one per line from standard input when there are none.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/seantiz/mapbridge/internal/config"
	"github.com/seantiz/mapbridge/internal/engine"
	"github.com/seantiz/mapbridge/internal/loop"
	"github.com/seantiz/mapbridge/internal/process"
)

func main() {
	var (
		configFile = pflag.StringP("config", "c", "mapcache.xml", "tile cache XML configuration file")
		baseURL    = pflag.String("base-url", "http://localhost:8080/", "base URL passed to the cache")
		workers    = pflag.IntP("workers", "j", 8, "maximum concurrent requests")
		logLevel   = pflag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	pflag.Parse()

	logger := config.NewLogger(os.Stderr, config.ParseLogLevel(*logLevel))

	targets := pflag.Args()
	if len(targets) == 0 {
		var err error
		targets, err = readLines(os.Stdin)
		if err != nil {
			log.Fatalf("read urls: %v", err)
		}
	}

	state := process.New()
	defer state.Teardown()

	l := loop.New(loop.WithMaxWorkers(*workers))
	defer l.Close()
	eng := engine.New(l, engine.WithState(state), engine.WithLogger(logger))

	failed := 0
	_, err := eng.FromConfigFile(*configFile, engine.SlogTarget(logger), func(err error, c *engine.Cache) {
		if err != nil {
			log.Fatalf("load %s: %v", *configFile, err)
		}
		defer c.Release()

		for _, target := range targets {
			pathInfo, query := splitTarget(target)
			_, err := c.Get(*baseURL, pathInfo, query, func(err error, resp *engine.Response) {
				switch {
				case err != nil:
					failed++
					fmt.Printf("ERR %s: %v\n", target, err)
				case resp.Code >= 400:
					failed++
					fmt.Printf("%d %s\n", resp.Code, target)
				default:
					fmt.Printf("%d %s (%d bytes)\n", resp.Code, target, len(resp.Data))
				}
			})
			if err != nil {
				failed++
				fmt.Printf("ERR %s: %v\n", target, err)
			}
		}
	})
	if err != nil {
		log.Fatalf("load %s: %v", *configFile, err)
	}

	if err := l.RunUntilIdle(context.Background()); err != nil {
		log.Fatalf("run: %v", err)
	}
	if failed > 0 {
		log.Fatalf("%d of %d requests failed", failed, len(targets))
	}
}

// splitTarget accepts a full URL or a path with an optional query string.
func splitTarget(target string) (pathInfo, query string) {
	if u, err := url.Parse(target); err == nil && u.Scheme != "" {
		return u.Path, u.RawQuery
	}
	pathInfo, query, _ = strings.Cut(target, "?")
	return pathInfo, query
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
