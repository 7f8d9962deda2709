package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"runtime/pprof"
	"sync"
	"syscall"

	"github.com/Scusemua/go-utils/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-bridge/bridge/daemon"
	"github.com/scusemua/notebook-bridge/bridge/domain"
	"github.com/scusemua/notebook-bridge/common/envelope"
	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/kernel/luakernel"
	"github.com/scusemua/notebook-bridge/common/metrics"
	"github.com/scusemua/notebook-bridge/common/render"
	"github.com/scusemua/notebook-bridge/common/utils"
	"github.com/scusemua/notebook-bridge/common/websocket"
)

const (
	ServiceName = "notebook-bridge"
)

var (
	options      = domain.BridgeOptions{}
	globalLogger = config.GetLogger("")
	sig          = make(chan os.Signal, 1)
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
}

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() {
	flags, err := config.ValidateOptions(&options)
	if errors.Is(err, config.ErrPrintUsage) {
		flags.PrintDefaults()
		os.Exit(0)
	} else if err != nil {
		log.Fatal(err)
	}

	if options.ConnectionFile == "" {
		flags.PrintDefaults()
		log.Fatal(domain.ErrNoConnectionFile)
	}
}

func main() {
	defer finalize(false, "Main thread")

	var done sync.WaitGroup

	// Ensure that the options/configuration is valid.
	ValidateOptions()

	if options.PrettyPrintOptions {
		globalLogger.Info("Starting %s with the following options:\n%s\n", ServiceName, options.PrettyString(2))
	} else {
		globalLogger.Info("Starting %s.", ServiceName)
	}

	connInfo, err := jupyter.LoadConnectionInfo(options.ConnectionFile)
	if err != nil {
		log.Fatalf("Failed to load connection file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := history.NewStore(ctx, options.HistoryOptions())
	if err != nil {
		log.Fatalf("Failed to create %s history store: %v", options.HistoryBackend, err)
	}
	defer func() {
		_ = store.Close()
	}()

	kernel := luakernel.New()

	metricsManager := metrics.NewPrometheusManager(options.MetricsPort, utils.GetEnv("NODE_NAME", connInfo.KernelName))
	if err = metricsManager.InitializeMetrics(); err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	metricsManager.Handle("/ws", websocket.NewEnvelopeServer(kernel, envelope.NewRegistry()).HandleRequest)
	if err = metricsManager.Start(); err != nil {
		log.Fatalf("Failed to start the HTTP server: %v", err)
	}

	server, err := daemon.New(ctx, connInfo, &options, kernel, render.Default(), store, metricsManager)
	if err != nil {
		log.Fatalf("Failed to create kernel server: %v", err)
	}

	// Start detecting stop signals
	done.Add(1)
	go func() {
		defer done.Done()

		select {
		case <-sig:
			globalLogger.Info("Shutting down...")
		case <-server.Done():
			globalLogger.Info("Kernel server stopped.")
		}

		_ = server.Close()
		_ = metricsManager.Stop()
		_ = kernel.Close()
	}()

	// Start the kernel server
	go func() {
		defer finalize(true, "Kernel Server")
		if serveErr := server.Start(); serveErr != nil {
			globalLogger.Error(utils.RedStyle.Render("Error during kernel server serving: %v"), serveErr)
			panic(serveErr)
		}
	}()

	done.Wait()
}

func finalize(fix bool, identity string) {
	if !fix {
		return
	}

	if err := recover(); err != nil {
		globalLogger.Error("Called recover() in \"%s\" and retrieved the following error: %v", identity, err)

		globalLogger.Error("Stack trace of CURRENT goroutine:")
		debug.PrintStack()

		globalLogger.Error("Stack traces of ALL active goroutines:")
		if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
			globalLogger.Error("Failed to output call stacks of all active goroutines: %v", err)
		}
	}

	sig <- syscall.SIGINT
}
