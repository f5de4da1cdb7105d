// Package main contains a command that streams a synthetic test pattern.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bluenviron/framecast"
	"github.com/bluenviron/framecast/internal/conf"
	"github.com/bluenviron/framecast/internal/status"
	"github.com/bluenviron/framecast/pkg/encoder"
	"github.com/bluenviron/framecast/pkg/encoder/ffmpeg"
	"github.com/bluenviron/framecast/pkg/liberrors"
)

func newLogger(c *conf.Conf) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if c.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func newEngine(logger *zap.Logger) encoder.EngineFactory {
	return func(ec encoder.EngineConf) (encoder.Engine, error) {
		e, err := ffmpeg.NewEngine(ec)
		if err != nil {
			return nil, err
		}

		logger.Info("encoder opened", zap.String("codec", e.(*ffmpeg.Engine).CodecName()),
			zap.Int("width", ec.Width), zap.Int("height", ec.Height))
		return e, nil
	}
}

func newServer(c *conf.Conf, logger *zap.Logger) (*framecast.Server, error) {
	codec, err := c.Server.Codec.Encoder()
	if err != nil {
		return nil, err
	}

	return &framecast.Server{
		URL:                 c.Server.URL,
		Width:               c.Server.Width,
		Height:              c.Server.Height,
		Channels:            c.Server.Channels,
		Codec:               codec,
		Bitrate:             c.Server.Bitrate,
		FPS:                 c.Server.FPS,
		FrameQueueSize:      c.Server.FrameQueueSize,
		MultithreadedTiling: c.Server.MultithreadedTiling,
		TileWorkers:         c.Server.TileWorkers,
		UseCustomEncodeJPEG: c.Server.UseCustomEncodeJPEG,
		Compressor:          &encoder.SoftwareCompressor{Quality: c.Server.JPEGQuality},
		NewEngine:           newEngine(logger),
		WebSocketAddress:    c.Server.WebSocketAddress,
		ClientQueueSize:     c.Server.ClientQueueSize,
		WriteTimeout:        time.Duration(c.Server.WriteTimeout),
		RTCPPeriod:          time.Duration(c.Server.RTCPPeriod),
		DSCP:                c.Server.DSCP,
		Handler:             &handler{logger: logger},
		Logger:              logger,
	}, nil
}

func startReporter(c *conf.Conf, srv *framecast.Server, logger *zap.Logger) (func(), error) {
	offline, err := status.OfflineMessage(c.MQTT.ClientID)
	if err != nil {
		return nil, err
	}

	pub := &status.MQTTPublisher{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		WillTopic:   c.MQTT.Topic,
		WillPayload: offline,
		WillQoS:     c.MQTT.QoS,
		Logger:      logger,
	}
	err = pub.Initialize()
	if err != nil {
		return nil, err
	}

	r := &status.Reporter{
		Publisher: pub,
		Source:    srv,
		ClientID:  c.MQTT.ClientID,
		Topic:     c.MQTT.Topic,
		QoS:       c.MQTT.QoS,
		Period:    time.Duration(c.MQTT.Period),
		Logger:    logger,
	}
	err = r.Initialize()
	if err != nil {
		pub.Close()
		return nil, err
	}

	return func() {
		r.Close()
		pub.Close()
	}, nil
}

func runSource(c *conf.Conf, srv *framecast.Server, logger *zap.Logger, done chan struct{}) {
	src := &testPattern{
		Width:    c.Server.Width,
		Height:   c.Server.Height,
		Channels: c.Server.Channels,
		Pattern:  c.Source.Pattern,
	}
	src.initialize()

	t := time.NewTicker(time.Second / time.Duration(c.Source.FPS))
	defer t.Stop()

	for {
		select {
		case <-t.C:
		case <-done:
			return
		}

		if !srv.IsConnected() {
			continue
		}

		frame := src.next()

		if c.Source.Buffered {
			srv.SubmitFrameBuffered(frame)
			continue
		}

		err := srv.SubmitBigFrame(frame, 0)
		if err != nil && !errors.Is(err, liberrors.ErrServerNoClients{}) {
			logger.Debug("frame not sent", zap.Error(err))
		}
	}
}

func run() error {
	confPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	c, err := conf.Load(*confPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	srv, err := newServer(c, logger)
	if err != nil {
		return err
	}

	err = srv.Initialize()
	if err != nil {
		return err
	}

	err = srv.Start()
	if err != nil {
		return err
	}
	defer srv.Close()

	if c.MQTT.Broker != "" {
		var closeReporter func()
		closeReporter, err = startReporter(c, srv, logger)
		if err != nil {
			return fmt.Errorf("unable to start status reporter: %w", err)
		}
		defer closeReporter()
	}

	sourceDone := make(chan struct{})
	sourceTerminated := make(chan struct{})

	go func() {
		defer close(sourceTerminated)
		runSource(c, srv, logger, sourceDone)
	}()

	defer func() {
		close(sourceDone)
		<-sourceTerminated
	}()

	chSignal := make(chan os.Signal, 1)
	signal.Notify(chSignal, syscall.SIGINT, syscall.SIGTERM)

	chServerErr := make(chan error, 1)
	go func() {
		chServerErr <- srv.Wait()
	}()

	select {
	case sig := <-chSignal:
		logger.Info("shutting down", zap.Stringer("signal", sig))
		return nil

	case err = <-chServerErr:
		return err
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %v\n", err)
		os.Exit(1)
	}
}
