// main is the owlmail daemon launcher
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/owlmail/owlmail/pkg/config"
	"github.com/owlmail/owlmail/pkg/daemon"
	"github.com/owlmail/owlmail/pkg/pipeline"
	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/owlmail/owlmail/pkg/storage"
)

var (
	// version contains the build version number, populated during linking.
	version = "undefined"

	// date contains the build date, populated during linking.
	date = "undefined"
)

func main() {
	// Command line flags.
	help := flag.Bool("help", false, "Displays help on flags and env variables.")
	pidfile := flag.String("pidfile", "", "Write our PID into the specified file.")
	logfile := flag.String("logfile", "stderr", "Write out log into the specified file.")
	logjson := flag.Bool("logjson", false, "Logs are written in JSON format.")
	once := flag.Bool("once", false, "Run a single reconciliation pass and exit.")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: owlmaild [options]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *help {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "")
		config.Usage()
		return
	}

	// Process configuration.
	config.Version = version
	config.BuildDate = date
	conf, err := config.Process()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Logger setup.
	closeLog, err := openLog(conf.LogLevel, *logfile, *logjson)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Log error: %v\n", err)
		os.Exit(1)
	}
	startupLog := log.With().Str("phase", "startup").Logger()
	startupLog.Info().Str("version", config.Version).Str("buildDate", config.BuildDate).
		Msg("Owlmail starting")

	// Setup signal handler.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	// Write pidfile if requested.
	if *pidfile != "" {
		pidf, err := os.Create(*pidfile)
		if err != nil {
			startupLog.Fatal().Err(err).Str("path", *pidfile).Msg("Failed to create pidfile")
		}
		fmt.Fprintf(pidf, "%v\n", os.Getpid())
		if err := pidf.Close(); err != nil {
			startupLog.Fatal().Err(err).Str("path", *pidfile).Msg("Failed to close pidfile")
		}
	}

	svc, err := buildService(conf)
	if err != nil {
		removePIDFile(*pidfile)
		startupLog.Fatal().Err(err).Msg("Fatal setup error")
	}

	if *once {
		err := svc.Once()
		if err != nil {
			log.Error().Str("phase", "shutdown").Err(err).Msg("Reconciliation pass failed")
		}
		removePIDFile(*pidfile)
		closeLog()
		if err != nil {
			os.Exit(1)
		}
		return
	}

	if err := svc.Start(); err != nil {
		removePIDFile(*pidfile)
		startupLog.Fatal().Err(err).Msg("Fatal startup error")
	}

	// Loop forever waiting for signals.
signalLoop:
	for sig := range sigChan {
		switch sig {
		case syscall.SIGINT:
			log.Info().Str("phase", "shutdown").Str("signal", "SIGINT").
				Msg("Received SIGINT, shutting down")
			break signalLoop
		case syscall.SIGTERM:
			log.Info().Str("phase", "shutdown").Str("signal", "SIGTERM").
				Msg("Received SIGTERM, shutting down")
			break signalLoop
		}
	}

	// Wait for in-flight work to finish.
	go timedExit(*pidfile)
	svc.Stop()
	removePIDFile(*pidfile)
	closeLog()
}

// buildService wires the pipelines and daemon from configuration.
func buildService(conf *config.Root) (*daemon.Service, error) {
	layout := storage.NewLayout(conf.MailRoot)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	loader := policy.NewLoader(layout.Root())
	if _, err := loader.Reload(); err != nil {
		return nil, fmt.Errorf("loading routing rules: %w", err)
	}

	var signer *pipeline.Signer
	if conf.Outbound.DKIMDomain != "" {
		material, err := pipeline.EnsureKeyMaterial(layout, conf.Outbound.DKIMSelector)
		if err != nil {
			return nil, err
		}
		if signer, err = pipeline.NewSigner(material, conf.Outbound.DKIMDomain); err != nil {
			return nil, err
		}
	}

	transport := pipeline.NewSMTPTransport(conf.Outbound)
	outbox, err := pipeline.NewOutbox(layout, loader, conf, signer, transport)
	if err != nil {
		return nil, err
	}
	reconciler := pipeline.NewReconciler(layout, loader)
	return daemon.New(conf, layout, loader, outbox, reconciler)
}

// openLog configures zerolog output, returns func to close logfile.
func openLog(level string, logfile string, json bool) (close func(), err error) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		return nil, fmt.Errorf("Log level %q not one of: debug, info, warn, error", level)
	}
	close = func() {}
	var w io.Writer
	color := runtime.GOOS != "windows"
	switch logfile {
	case "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		logf, err := os.OpenFile(logfile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return nil, err
		}
		bw := bufio.NewWriter(logf)
		w = bw
		color = false
		close = func() {
			_ = bw.Flush()
			_ = logf.Close()
		}
	}
	w = zerolog.SyncWriter(w)
	if json {
		log.Logger = log.Output(w)
		return close, nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:     w,
		NoColor: !color,
	})
	return close, nil
}

// removePIDFile removes the PID file if created.
func removePIDFile(pidfile string) {
	if pidfile != "" {
		if err := os.Remove(pidfile); err != nil {
			log.Error().Str("phase", "shutdown").Err(err).Str("path", pidfile).
				Msg("Failed to remove pidfile")
		}
	}
}

// timedExit is called as a goroutine during shutdown, it will force an exit after 15 seconds.
func timedExit(pidfile string) {
	time.Sleep(15 * time.Second)
	removePIDFile(pidfile)
	log.Error().Str("phase", "shutdown").Msg("Clean shutdown took too long, forcing exit")
	os.Exit(0)
}
