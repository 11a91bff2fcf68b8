// Package main provides a load testing tool for the chat WebSocket endpoint.
//
// Every client signs its own token with the configured JWT secret, joins the
// chat and sends a message on each tick. Acks and room broadcasts are counted
// separately so delivery can be compared with what was sent.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/middleware"

	"github.com/gorilla/websocket"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	AcksReceived         int64
	Broadcasts           int64
	Errors               int64
}

var metrics Metrics

type frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:4500", "API server host")
	chatID := flag.Uint("chat", 1, "Chat to join and write to")
	buyerID := flag.Uint("buyer", 0, "Buyer user id of the chat")
	sellerID := flag.Uint("seller", 0, "Seller user id of the chat")
	clients := flag.Int("clients", 20, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	interval := flag.Duration("interval", 2*time.Second, "Delay between messages of one client")
	flag.Parse()

	if *buyerID == 0 || *sellerID == 0 {
		log.Fatal("both -buyer and -seller are required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting chat load test against %s, chat %d, %d clients for %v", *host, *chatID, *clients, *duration)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		// Alternate sides so both participants see traffic.
		userID := *buyerID
		if i%2 == 1 {
			userID = *sellerID
		}
		token, err := middleware.IssueToken(cfg, userID, *duration+time.Minute)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}

		wg.Add(1)
		go runClient(*host, token, *chatID, i, *interval, stopChan, &wg)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-time.After(*duration):
		log.Println("Test duration reached")
	case <-interrupt:
		log.Println("Interrupted")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func runClient(host, token string, chatID uint, id int, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	u := url.URL{Scheme: "ws", Host: host, Path: "/ws/chat", RawQuery: "token=" + url.QueryEscape(token)}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	go readLoop(c)

	if err := write(c, "join-chat", fmt.Sprintf("join-%d", id), chatID); err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-stopChan:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			data := map[string]interface{}{
				"chatId":  chatID,
				"content": fmt.Sprintf("load test message %d from client %d", n, id),
			}
			if err := write(c, "send-message", fmt.Sprintf("%d-%d", id, n), data); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				return
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

func readLoop(c *websocket.Conn) {
	for {
		var f frame
		if err := c.ReadJSON(&f); err != nil {
			return
		}
		switch f.Event {
		case "ack":
			atomic.AddInt64(&metrics.AcksReceived, 1)
		case "receive-message":
			atomic.AddInt64(&metrics.Broadcasts, 1)
		case "error", "messages_dropped":
			atomic.AddInt64(&metrics.Errors, 1)
		}
	}
}

func write(c *websocket.Conn, event, ackID string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.WriteJSON(frame{Event: event, AckID: ackID, Data: raw})
}

func printMetrics() {
	log.Println("Test Results")
	log.Println("============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Acks Received: %d", atomic.LoadInt64(&metrics.AcksReceived))
	log.Printf("Broadcasts Received: %d", atomic.LoadInt64(&metrics.Broadcasts))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
