package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/motionframe/internal/config"
	"github.com/banshee-data/motionframe/internal/device"
	"github.com/banshee-data/motionframe/internal/health"
	"github.com/banshee-data/motionframe/internal/journal"
	"github.com/banshee-data/motionframe/internal/tracking"
	"github.com/banshee-data/motionframe/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Pipeline config file (.json)")
	sourceKind = flag.String("source", "", "Tracking source: synthetic, serial or disabled (overrides config)")
	port       = flag.String("port", "", "Serial bridge device path (overrides config)")
	baud       = flag.Int("baud", 0, "Serial baud rate (overrides config)")
	listPorts  = flag.Bool("list-ports", false, "List serial ports and exit")
	showVer    = flag.Bool("version", false, "Print version and exit")
	listen     = flag.String("listen", "127.0.0.1:8090", "Admin HTTP listen address")
	healthAddr = flag.String("health-listen", "127.0.0.1:8091", "gRPC health listen address; empty disables it")
	journalDB  = flag.String("journal", "", "Journal sqlite path (overrides config); empty uses config")
	diagLog    = flag.String("diag-log", "", "Write diagnostic logs to this file")
	traceLog   = flag.String("trace-log", "", "Write per-frame trace logs to this file")
)

func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func sourceOptions(pc *config.PipelineConfig) device.Options {
	src := pc.GetSource()
	opts := device.Options{
		Kind: src.Kind,
		Path: src.Path,
		Serial: device.SerialOptions{
			BaudRate: src.BaudRate,
			DataBits: src.DataBits,
			StopBits: src.StopBits,
			Parity:   src.Parity,
		},
		FrameRate: src.FrameRate,
		Seed:      src.Seed,
		Reorder:   src.Reorder,
	}
	if *sourceKind != "" {
		opts.Kind = *sourceKind
	}
	if *port != "" {
		opts.Path = *port
	}
	if *baud > 0 {
		opts.Serial.BaudRate = *baud
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return opts
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	if *listPorts {
		ports, err := device.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("starting %s", version.String())

	pc, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := tracking.ConfigFromPipeline(pc)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	diagW, closeDiag, err := openLog(*diagLog)
	if err != nil {
		log.Fatalf("failed to open diag log: %v", err)
	}
	defer closeDiag()
	traceW, closeTrace, err := openLog(*traceLog)
	if err != nil {
		log.Fatalf("failed to open trace log: %v", err)
	}
	defer closeTrace()
	tracking.SetLogWriters(tracking.LogWriters{Ops: os.Stdout, Diag: diagW, Trace: traceW})

	opts := sourceOptions(pc)
	source, err := device.New(opts)
	if err != nil {
		log.Fatalf("failed to create tracking source: %v", err)
	}

	conn := tracking.NewConnection(source, cfg)

	reporter := health.NewReporter()
	conn.Subscribe(reporter)

	mux := http.NewServeMux()
	conn.AttachAdminRoutes(mux)

	var jnl *journal.Journal
	journalPath := pc.GetJournalPath()
	if *journalDB != "" {
		journalPath = *journalDB
	}
	if journalPath != "" {
		kind := opts.Kind
		if kind == "" {
			kind = device.KindSynthetic
		}
		jnl, err = journal.Open(journalPath, kind)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		conn.Subscribe(jnl)
		jnl.AttachAdminRoutes(mux)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := conn.Start(ctx); err != nil {
		log.Fatalf("failed to start tracking connection: %v", err)
	}

	var wg sync.WaitGroup

	if *healthAddr != "" {
		hs := health.NewServer(reporter)
		if err := hs.Start(*healthAddr); err != nil {
			log.Fatalf("failed to start health service: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			hs.Stop()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("admin HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Close drains listener notifications, so the journal closes after it.
	if err := conn.Close(); err != nil {
		log.Printf("tracking connection close error: %v", err)
	}
	if jnl != nil {
		if err := jnl.Close(); err != nil {
			log.Printf("journal close error: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
