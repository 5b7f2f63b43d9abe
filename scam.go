package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/scrivy/scam/internal/camera"
	"github.com/scrivy/scam/internal/capture"
	"github.com/scrivy/scam/internal/config"
	"github.com/scrivy/scam/internal/engine"
	"github.com/scrivy/scam/internal/logging"
	"github.com/scrivy/scam/internal/server"
)

const defaultConfigPath = "./config.yaml"

var version = "dev"

func main() {
	showHelp := flag.Bool("h", false, "show help")
	configPath := flag.String("c", defaultConfigPath, "config path")
	indexHtmlPath := flag.String("htmlpath", "", "index.html path, empty for the built-in page")
	port := flag.Int("port", 0, "listen port, overrides the config")
	cameraIndex := flag.Int("camera", -1, "camera index, overrides the config")
	idle := flag.Bool("idle", false, "serve without starting the camera")
	flag.Parse()

	if *showHelp {
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *cameraIndex >= 0 {
		cfg.CameraIndex = *cameraIndex
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}

	log, err := logging.Stderr(cfg.LogLevel, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	if cfg.Debug {
		log.Debug().Interface("config", cfg).Msg("config")
	}
	if err := logging.SetupSentry(cfg.SentryDSN, version); err != nil {
		log.Fatal().Err(err).Msg("sentry")
	}

	// for profiling
	if cfg.Debug {
		go func() {
			log.Info().Err(http.ListenAndServe("localhost:6060", nil)).Msg("pprof stopped")
		}()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var index []byte
	if *indexHtmlPath != "" {
		index, err = os.ReadFile(*indexHtmlPath)
		if err != nil {
			log.Fatal().Err(err).Msg("read index.html")
		}
	}

	opts := cfg.Engine()
	opts.Capture.Report = logging.Report
	opts.Capture.OnTransition = func(from, to capture.State, ev capture.Event) {
		log.Debug().Stringer("from", from).Stringer("to", to).Stringer("event", ev).Msg("capture state")
	}
	eng := engine.New(camera.NewSource(cfg.Camera()), opts, log)
	srv := server.New(eng, server.Options{Index: index, CameraIndex: cfg.CameraIndex}, log)

	if err := srv.Listen(cfg.Addr()); err != nil {
		fatalStartup(log, err, "listen")
	}
	if !*idle {
		if err := eng.Start(cfg.CameraIndex); err != nil {
			fatalStartup(log, err, "start camera")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Serve(); err != nil {
			log.Error().Stack().Err(err).Msg("http server")
			stop()
		}
	}()
	go eng.ReportDelays(ctx)

	logURLs(log, cfg.Port)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	eng.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

// loadConfig falls back to defaults when the default path does not exist.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return cfg, err
}

func fatalStartup(log zerolog.Logger, err error, what string) {
	ev := log.Fatal().Err(err)
	if kind, ok := engine.StartupKindOf(err); ok {
		ev = ev.Stringer("kind", kind)
	}
	ev.Msg(what)
}

func logURLs(log zerolog.Logger, port int) {
	log.Info().Msgf("viewer at http://localhost:%d/", port)
	if ip := localIP(); ip != nil {
		log.Info().Msgf("viewer at http://%s/", net.JoinHostPort(ip.String(), fmt.Sprint(port)))
	}
}

// localIP is the address of the interface that routes to the internet. No
// packets are sent.
func localIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}
