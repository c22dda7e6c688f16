package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Poppeseed/wyzesense-mqtt/internal/bridges/wyzesense"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/logging"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/mqtt"
	"github.com/Poppeseed/wyzesense-mqtt/internal/metrics"
)

// runBridge forwards sensor events to MQTT until the context is cancelled.
//
// Startup order: open the gateway, connect to the broker, then serve. On
// shutdown the gateway is stopped first and the broker connection closed
// after it.
func (a *app) runBridge(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireBroker(); err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting wyzesense-mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	ctx := cmd.Context()

	registry := metrics.NewRegistry()
	sink := &brokerSink{}

	forwarder, err := wyzesense.NewForwarder(wyzesense.ForwarderOptions{
		Publisher: sink,
		Logger:    log,
		Metrics:   registry,
	})
	if err != nil {
		return err
	}

	gw, err := a.open(ctx, cfg, log, forwarder.HandleEvent)
	if err != nil {
		return err
	}

	var client broker
	defer func() {
		log.Info("stopping gateway")
		gw.Stop()

		if client != nil {
			log.Info("disconnecting from MQTT")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}
	}()

	a.println("connecting to mqtt")
	client, err = a.connectBroker(ctx, cfg.MQTT, mqtt.GatewayClientID(gw.Identity().MAC))
	if err != nil {
		a.println("Unable to connect to mqtt broker @ %s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
		return err
	}

	client.SetLogger(log)
	client.SetOnPublish(forwarder.PublishResult)
	client.SetOnConnect(func() { registry.SetBrokerConnected(true) })
	client.SetOnDisconnect(func(error) { registry.SetBrokerConnected(false) })
	registry.SetBrokerConnected(true)
	sink.attach(client)

	log.Info("MQTT connected",
		"broker", mqtt.BrokerURL(cfg.MQTT),
		"client_id", client.ClientID(),
	)
	log.Info("forwarding sensor events", "topic", wyzesense.Topics{}.AllSensorUpdates())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, registry, client.HealthCheck)
		g.Go(func() error {
			log.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			return srv.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		return nil
	})

	return g.Wait()
}
