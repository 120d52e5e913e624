package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptorouter/config"
	"cryptorouter/internal/book"
	"cryptorouter/internal/channel"
	"cryptorouter/internal/processor"
	"cryptorouter/internal/publisher"
	"cryptorouter/internal/server"
	"cryptorouter/logger"
	"cryptorouter/reader/coinbase"
	"cryptorouter/reader/kraken"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.DefaultConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Cryptorouter.Name,
		"version":     cfg.Cryptorouter.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting cryptorouter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	exchanges := make([]string, 0, 2)
	if cfg.Source.Coinbase.Enabled {
		exchanges = append(exchanges, "coinbase")
	}
	if cfg.Source.Kraken.Enabled {
		exchanges = append(exchanges, "kraken")
	}
	if len(exchanges) == 0 {
		log.Error("no exchange feeds enabled")
		os.Exit(1)
	}

	channels := channel.NewChannels(exchanges, cfg.Channels.RawBuffer)
	defer channels.Close()

	if cfg.Metrics.ChannelSize {
		channels.StartMetricsReporting(ctx, cfg.Metrics.ReportInterval)
	}

	consolidated := book.New()

	consolidator, err := processor.NewConsolidator(cfg, channels, consolidated)
	if err != nil {
		log.WithError(err).Error("failed to create consolidator")
		os.Exit(1)
	}

	var coinbaseReader *coinbase.Coinbase_Book_Reader
	if cfg.Source.Coinbase.Enabled {
		coinbaseReader = coinbase.Coinbase_Book_NewReader(cfg, channels)
	}
	var krakenReader *kraken.Kraken_Book_Reader
	if cfg.Source.Kraken.Enabled {
		krakenReader = kraken.Kraken_Book_NewReader(cfg, channels)
	}

	var pub *publisher.Publisher
	if cfg.Publisher.Enabled {
		pub = publisher.NewPublisher(cfg, consolidated)
	} else {
		log.WithComponent("main").Info("publisher disabled")
	}

	apiServer := server.NewServer(cfg.Server, consolidated, channels, pub, consolidator, log)
	if apiServer == nil {
		log.WithComponent("main").Info("api server disabled")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consolidator.Start(ctx); err != nil {
			log.WithError(err).Warn("consolidator failed to start")
		}
	}()

	if coinbaseReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := coinbaseReader.Coinbase_Book_Start(ctx); err != nil {
				log.WithError(err).Warn("coinbase reader failed to start")
			}
		}()
	}

	if krakenReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := krakenReader.Kraken_Book_Start(ctx); err != nil {
				log.WithError(err).Warn("kraken reader failed to start")
			}
		}()
	}

	if pub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Start(ctx); err != nil {
				log.WithError(err).Warn("publisher failed to start")
			}
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithFields(logger.Fields{"address": apiServer.Address()}).Info("starting api server")
			if err := apiServer.Run(ctx, cfg.Cryptorouter.Name); err != nil {
				log.WithError(err).Error("api server exited with error")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if coinbaseReader != nil {
		log.Info("stopping coinbase reader")
		coinbaseReader.Coinbase_Book_Stop()
	}
	if krakenReader != nil {
		log.Info("stopping kraken reader")
		krakenReader.Kraken_Book_Stop()
	}

	log.Info("stopping consolidator")
	consolidator.Stop()

	if pub != nil {
		log.Info("stopping publisher")
		pub.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("cryptorouter stopped")
}
