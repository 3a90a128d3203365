// Command bot is a test client: it opens the event stream for a token, logs
// every event, and issues random walk commands through the HTTP API. Useful
// for smoke-testing a server and for generating spectator traffic.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		base     = flag.String("url", "http://localhost:8080", "server base url")
		token    = flag.String("token", "", "access token (required)")
		interval = flag.Duration("interval", 2*time.Second, "delay between move commands")
		agents   = flag.Int("agents", 5, "agent slots to drive")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if *token == "" {
		logger.Fatal("missing -token")
	}

	wsURL := "ws" + (*base)[len("http"):] + "/event/" + *token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatalf("dial %s: %v (resp=%v)", wsURL, err, resp)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("stream closed: %v", err)
				return
			}
			var ev struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &ev); err != nil {
				logger.Printf("bad event: %s", msg)
				continue
			}
			logger.Printf("event %s (%d bytes)", ev.Type, len(msg))
		}
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	t := time.NewTicker(*interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		idx := 1 + rng.Intn(*agents)
		x, y := rng.Intn(31), rng.Intn(31)
		url := fmt.Sprintf("%s/api/move/%s/%d-%d-%d", *base, *token, idx, x, y)
		res, err := http.Get(url)
		if err != nil {
			logger.Printf("move: %v", err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4*1024))
		res.Body.Close()
		logger.Printf("move agent=%d -> (%d,%d): %d %s", idx, x, y, res.StatusCode, body)
	}
}
