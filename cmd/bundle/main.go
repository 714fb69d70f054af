/*
Command bundle is a thin CLI front end over the rpc Service: it parses a
handful of flags into a resolve.PackageRequest and a config.Config, drives
download.start, and prints the SSE-framed event stream to stdout as it
happens. It carries no resolution, fetch, or assembly logic of its own;
every decision lives in the rpc/resolve/fetch/assemble packages this just
wires together, the same way the example pack's examples/go/resolve and
examples/go/container_base_image commands are thin drivers over
deps.dev/util/resolve.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"bundle.dev/core/cache"
	"bundle.dev/core/config"
	"bundle.dev/core/logging"
	"bundle.dev/core/resolve"
	"bundle.dev/core/rpc"
	"bundle.dev/core/transport"
)

func main() {
	log.SetFlags(0)

	ecosystem := flag.String("ecosystem", "pip", "package ecosystem: pip, conda, maven, npm, yum, apt, apk, docker")
	name := flag.String("name", "", "package name")
	version := flag.String("version", "latest", "version, range, or \"latest\"")
	outputDir := flag.String("output", "./bundle", "output directory")
	outputFormat := flag.String("format", "directory", "zip, tar-gz, tar-xz, or directory")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *name == "" {
		log.Fatal("-name is required")
	}
	logging.Debug.Store(*debug)

	sys, ok := resolve.ParseSystem(*ecosystem)
	if !ok {
		log.Fatalf("unknown ecosystem %q", *ecosystem)
	}

	cfg := config.Defaults()
	cfg.OutputDir = *outputDir
	cfg.OutputFormat = config.OutputFormat(*outputFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	c, err := cache.New(cfg.CachePath, 512)
	if err != nil {
		log.Fatal(err)
	}
	svc := rpc.NewService(transport.New(), c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	packages := []resolve.PackageRequest{{Ecosystem: sys, Name: *name, Version: *version}}
	events, clientID, err := svc.DownloadStart(ctx, packages, resolve.DefaultResolveOptions(), cfg, "")
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("clientId=%s", clientID)

	for e := range events {
		if err := rpc.EncodeSSE(os.Stdout, e); err != nil {
			log.Fatal(err)
		}
		if e.Kind == "complete" && e.Artifact == "" {
			fmt.Fprintf(os.Stderr, "bundle written to %s\n", e.State)
		}
	}
}
