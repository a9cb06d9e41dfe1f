// Command uclipd runs the Universal Clipboard daemon: it loads identity
// and paired-device state, advertises itself over mDNS, serves the local
// status API, and drives the connection controller until interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/littledino2112/universal-clipboard/clipboard"
	"github.com/littledino2112/universal-clipboard/config"
	"github.com/littledino2112/universal-clipboard/controller"
	"github.com/littledino2112/universal-clipboard/crypto"
	"github.com/littledino2112/universal-clipboard/discovery"
	"github.com/littledino2112/universal-clipboard/session"
	"github.com/littledino2112/universal-clipboard/statusapi"
	"github.com/littledino2112/universal-clipboard/store"
)

func main() {
	if err := run(); err != nil {
		logrus.WithFields(logrus.Fields{"function": "main"}).Fatal("uclipd exiting: ", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logrus.SetLevel(cfg.LogLevel)

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	identity, err := st.LoadIdentity()
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if identity == nil {
		identity, err = crypto.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("generate identity: %w", err)
		}
		if err := st.SaveIdentity(identity); err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
	}

	clip := clipboard.NewMemoryClipboard()
	bus := &session.Bus{}
	ctrl := controller.New(identity, cfg.DeviceName, clip, st, bus)

	metrics := statusapi.NewMetrics()
	ctrl.SetMetrics(metrics.Recorder())

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.ListenPort, err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ctrl.Serve(ctx, ln); err != nil {
			logrus.WithFields(logrus.Fields{"function": "run"}).Warn("listener stopped: ", err)
		}
	}()

	code, err := crypto.GeneratePairingCode()
	if err != nil {
		return fmt.Errorf("generate pairing code: %w", err)
	}
	ctrl.BeginPairing(code)
	bus.Emit(session.Event{Kind: session.EventServerStarted, PairingCode: code, Port: cfg.ListenPort})
	logrus.WithFields(logrus.Fields{
		"function": "run",
		"port":     cfg.ListenPort,
		"code":     code,
	}).Info("ready for pairing")

	advertiser, err := discovery.Advertise(cfg.DeviceName, cfg.ListenPort)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "run"}).Warn("mdns advertise failed, continuing without discovery: ", err)
	} else {
		defer advertiser.Close()
	}

	api := statusapi.New(ctrl, metrics, bus)
	statusSrv := &http.Server{Addr: cfg.StatusAddr, Handler: api}
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithFields(logrus.Fields{"function": "run"}).Warn("status api stopped: ", err)
		}
	}()
	defer statusSrv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logrus.WithFields(logrus.Fields{"function": "run"}).Info("shutting down")
	ctrl.Disconnect()
	return nil
}
