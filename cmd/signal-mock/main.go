// Command signal-mock runs the mock Signal server standalone.
//
// Usage:
//
//	signal-mock --certs ./certs --port 8080
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	signalmock "github.com/gwillem/signal-mock"
)

type opts struct {
	Certs   string `long:"certs" default:"certs" description:"Directory holding trust-root.json and zk-params.json"`
	Port    int    `short:"p" long:"port" default:"8080" description:"Listen port"`
	Host    string `long:"host" default:"127.0.0.1" description:"Listen host"`
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`
}

func main() {
	var o opts
	if _, err := flags.Parse(&o); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if o.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := signalmock.LoadConfig(o.Certs)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	srv, err := signalmock.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create server")
	}
	if err := srv.Listen(o.Port, o.Host); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
	fmt.Printf("listening on %s\n", srv.Address())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if err := srv.Close(); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
