//go:build js && wasm
// +build js,wasm

// Command content is the content script. It reports the page's product to
// the background worker and mounts the panel on supported pages. Panel
// snapshots are published as "shopagent:panel" DOM events for the page
// shell to render.
package main

import (
	"context"
	"encoding/json"
	"syscall/js"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/chromeext"
	"github.com/goliatone/go-shopagent/content"
	"github.com/goliatone/go-shopagent/panel"
	"github.com/goliatone/go-shopagent/session"
)

func main() {
	logger := shopagent.DefaultLogger()
	ctx := context.Background()

	port := chromeext.NewRuntimePort(logger)
	replica := session.NewReplica(chromeext.NewStorageBackend(chromeext.DefaultStorageKey), logger)

	script := content.New(port, replica,
		content.WithLogger(logger),
		content.WithPanelOptions(panel.OnViewChange(publish)),
	)

	document := js.Global().Get("document")
	page := content.Page{
		URL:  js.Global().Get("location").Get("href").String(),
		HTML: document.Get("documentElement").Get("outerHTML").String(),
	}

	go func() {
		if err := replica.Start(ctx); err != nil {
			logger.Error("session storage unavailable", "error", err)
		}
		if _, err := script.Run(ctx, page); err != nil {
			logger.Warn("page info incomplete", "error", err)
		}
	}()

	select {}
}

func publish(snapshot panel.Snapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	detail := js.Global().Get("JSON").Call("parse", string(raw))
	event := js.Global().Get("CustomEvent").New("shopagent:panel", map[string]interface{}{
		"detail": detail,
	})
	js.Global().Get("window").Call("dispatchEvent", event)
}
