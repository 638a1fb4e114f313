//go:build js && wasm
// +build js,wasm

// Command background is the extension service worker. It relays runtime
// messages to a shopagent daemon, runs Google sign-in in the browser and
// mirrors the daemon's session record into chrome.storage.local.
package main

import (
	"context"
	"encoding/json"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/chromeext"
	"github.com/goliatone/go-shopagent/httpapi/client"
	"github.com/goliatone/go-shopagent/provider/google"
	"github.com/goliatone/go-shopagent/session"
)

const (
	daemonURL     = "http://127.0.0.1:8572"
	retryInterval = 5 * time.Second
)

func main() {
	logger := shopagent.DefaultLogger()
	ctx := context.Background()

	remote := client.New(daemonURL, client.WithLogger(logger))
	storage := chromeext.NewStorageBackend(chromeext.DefaultStorageKey)

	relayOpts := []chromeext.RelayOption{chromeext.WithRelayLogger(logger)}
	if clientID := chromeext.ManifestClientID(); clientID != "" {
		launcher := chromeext.NewIdentityLauncher()
		flow := google.NewFlow(shopagent.GoogleConfig{
			ClientID:    clientID,
			RedirectURL: launcher.RedirectURL(),
		},
			google.WithResponseMode(google.ResponseModeFragment),
			google.WithLauncher(launcher),
			google.WithFlowLogger(logger),
		)
		relayOpts = append(relayOpts, chromeext.WithFlow(flow))
	} else {
		logger.Warn("manifest has no oauth2 client id, federated sign-in goes to the daemon")
	}

	relay := chromeext.NewRelay(remote, relayOpts...)
	chromeext.ServeRuntime(relay.Handle, logger)

	chromeext.OnActionClicked(func(tabID int) {
		raw, err := chromeext.SendToTab(ctx, tabID, shopagent.TogglePanelMessage{Action: shopagent.ActionTogglePanel})
		if err != nil {
			logger.Warn("toggle panel failed", "tab", tabID, "error", err)
			return
		}
		var ack shopagent.TogglePanelAck
		if err := json.Unmarshal(raw, &ack); err == nil {
			logger.Debug("panel toggled", "tab", tabID, "open", ack.Open)
		}
	})

	go mirror(ctx, remote, storage, logger)

	select {}
}

// mirror copies every record the daemon publishes into extension storage,
// where content scripts observe it.
func mirror(ctx context.Context, remote *client.Client, storage *chromeext.StorageBackend, logger shopagent.Logger) {
	replica := session.NewReplica(remote, logger)
	replica.Subscribe(func(change session.Change) {
		if err := storage.Save(ctx, change.Current); err != nil {
			logger.Error("session mirror write failed", "error", err)
		}
	})

	for {
		if err := replica.Start(ctx); err != nil {
			logger.Warn("daemon unreachable, retrying", "error", err, "in", retryInterval)
			time.Sleep(retryInterval)
			continue
		}
		break
	}

	state, err := replica.Read(ctx)
	if err != nil {
		logger.Error("session mirror read failed", "error", err)
		return
	}
	if err := storage.Save(ctx, state); err != nil {
		logger.Error("session mirror write failed", "error", err)
	}
}
