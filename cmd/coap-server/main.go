// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main contains coap-server main function to start the CoAP
// request/response coordinator as a standalone service, following the
// teacher's cmd/<service>/main.go shape: env-parsed config, a logger,
// optional tracing/metrics/events middleware stacked over a Handler,
// and an errgroup running the listener alongside the signal handler.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v7"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/absmach/coapcore/logger"
	"github.com/absmach/coapcore/pkg/coap/events"
	"github.com/absmach/coapcore/pkg/coap/exchange"
	coapmetrics "github.com/absmach/coapcore/pkg/coap/metrics"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/coap/message/codes"
	coapserver "github.com/absmach/coapcore/pkg/coap/server"
	"github.com/absmach/coapcore/pkg/coap/tracing"
	"github.com/absmach/coapcore/pkg/server"
	coapsrv "github.com/absmach/coapcore/pkg/server/coap"
	httpserver "github.com/absmach/coapcore/pkg/server/http"
	"github.com/absmach/coapcore/pkg/uuid"
)

const (
	svcName        = "coap-server"
	envPrefixCoAP  = "MG_COAP_"
	defSvcCoAPPort = "5683"
	envPrefixHTTP  = "MG_COAP_HTTP_"
	defSvcHTTPPort = "9683"
)

type config struct {
	LogLevel      string        `env:"MG_COAP_LOG_LEVEL"        envDefault:"info"`
	InstanceID    string        `env:"MG_COAP_INSTANCE_ID"      envDefault:""`
	AckTimeout    time.Duration `env:"MG_COAP_ACK_TIMEOUT"      envDefault:"2s"`
	MaxRetransmit int           `env:"MG_COAP_MAX_RETRANSMIT"   envDefault:"4"`
	NATSURL       string        `env:"MG_COAP_NATS_URL"         envDefault:""`
	TraceRatio    float64       `env:"MG_COAP_TRACE_RATIO"      envDefault:"1.0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load %s configuration : %s", svcName, err)
	}

	slogger, err := logger.New(os.Stdout, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %s", err.Error())
	}

	var exitCode int
	defer logger.ExitWithError(&exitCode)

	if cfg.InstanceID == "" {
		if cfg.InstanceID, err = uuid.New().ID(); err != nil {
			slogger.Error(fmt.Sprintf("failed to generate instanceID: %s", err))
			exitCode = 1
			return
		}
	}

	coapServerConfig := server.Config{Port: defSvcCoAPPort}
	if err := env.Parse(&coapServerConfig, env.Options{Prefix: envPrefixCoAP}); err != nil {
		slogger.Error(fmt.Sprintf("failed to load %s CoAP server configuration : %s", svcName, err))
		exitCode = 1
		return
	}

	tp, err := tracing.NewProvider(svcName, cfg.InstanceID, cfg.TraceRatio)
	if err != nil {
		slogger.Error(fmt.Sprintf("failed to init tracer: %s", err))
		exitCode = 1
		return
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			slogger.Error(fmt.Sprintf("error shutting down tracer provider: %v", err))
		}
	}()
	tracer := tp.Tracer(svcName)

	coapMetrics := coapmetrics.New(svcName, "api")

	handler := coapserver.Handler(echoHandler{})
	handler = tracing.New(handler, tracer)
	handler = coapmetrics.Middleware(handler, coapMetrics)

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			slogger.Error(fmt.Sprintf("failed to connect to NATS: %s", err))
			exitCode = 1
			return
		}
		defer nc.Close()
		pub := events.NewPublisher(nc)
		port, _ := strconv.Atoi(coapServerConfig.Port)
		subject := events.Subject(coapServerConfig.Host, port)
		handler = events.Middleware(handler, pub, subject, slogger)
	}

	httpServerConfig := server.Config{Port: defSvcHTTPPort}
	if err := env.Parse(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		slogger.Error(fmt.Sprintf("failed to load %s metrics HTTP server configuration : %s", svcName, err))
		exitCode = 1
		return
	}
	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, coapmetrics.Handler(svcName, "metrics_http"), slogger)

	timing := exchange.Timing{AckTimeout: cfg.AckTimeout, MaxRetransmit: cfg.MaxRetransmit, AckRandomFactor: 1.5}
	cs := coapsrv.NewServer(ctx, cancel, svcName, coapServerConfig, handler, timing, slogger, coapMetrics)

	g.Go(func() error {
		return cs.Start()
	})

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, slogger, svcName, cs, hs)
	})

	if err := g.Wait(); err != nil {
		slogger.Error(fmt.Sprintf("%s terminated: %s", svcName, err))
	}
}

// echoHandler is the default Handler a freshly-started coap-server
// answers requests with absent a real resource tree: it reflects the
// request payload back as 2.05 Content, useful for smoke-testing a
// deployment the way the teacher's services ship a health endpoint.
type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, req *message.Message) *message.Message {
	return &message.Message{Code: codes.Content, Payload: req.Payload}
}

