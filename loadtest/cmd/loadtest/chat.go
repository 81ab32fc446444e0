package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/majlis/chat-app/loadtest/client"
	"github.com/majlis/chat-app/loadtest/stats"
)

// runChat implements the room chat load test. It spreads N clients across a
// configurable number of rooms, has each client send messages at a steady
// rate for the test duration, and measures the room broadcast round-trip:
// the time from sending a chatMessage to receiving the server's own
// broadcast of it back on the same connection.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 100, "Number of clients")
	rooms := fs.Int("rooms", 10, "Number of rooms to spread clients across")
	duration := fs.Duration("duration", 30*time.Second, "Test duration after all clients have joined")
	msgInterval := fs.Duration("interval", 2*time.Second, "Interval between messages per client (server allows 10 per 10s)")
	metricsURL := fs.String("metrics", "", "Prometheus metrics URL to scrape during the test (optional)")
	fs.Parse(args)

	fmt.Printf("Chat test: %d users in %d rooms on %s (duration=%s, interval=%s)\n",
		*users, *rooms, *url, *duration, *msgInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	// -----------------------------------------------------------------------
	// Join phase: connect every client and get it into its room.
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Join phase ---")

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *users)

	var wg sync.WaitGroup
	sem := make(chan struct{}, 50)

	for i := 0; i < *users; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			username := fmt.Sprintf("lt%d", n)
			room := fmt.Sprintf("ltroom%d", n%*rooms)

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, *url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForAccept(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			// Round-trip measurement: our own broadcasts carry our send
			// timestamp in the message body.
			c.On(client.TypeMessage, func(raw json.RawMessage) {
				var msg struct {
					User string `json:"user"`
					Text string `json:"text"`
				}
				if err := json.Unmarshal(raw, &msg); err != nil || msg.User != username {
					return
				}
				if ns, ok := parseEchoTimestamp(msg.Text); ok {
					collector.AddMsgLatency(time.Since(time.Unix(0, ns)))
				}
			})

			if err := c.Join(username, room); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			if err := c.WaitForJoin(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			collector.AddJoin(c.GetMetrics().JoinLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	mu.Lock()
	joined := len(clients)
	mu.Unlock()
	fmt.Printf("Joined: %d/%d clients (%d errors)\n", joined, *users, collector.ErrorCount())
	if joined == 0 {
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Chat phase: every client sends at the configured interval.
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Chat phase ---")

	chatCtx, chatCancel := context.WithTimeout(ctx, *duration)
	defer chatCancel()

	mu.Lock()
	for i, c := range clients {
		wg.Add(1)
		go func(n int, c *client.Client) {
			defer wg.Done()

			// Stagger senders so message ticks do not align.
			offset := time.Duration(n) * *msgInterval / time.Duration(joined)
			select {
			case <-chatCtx.Done():
				return
			case <-time.After(offset):
			}

			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()

			seq := 0
			for {
				select {
				case <-chatCtx.Done():
					return
				case <-ticker.C:
					seq++
					text := fmt.Sprintf("load %d @%d", seq, time.Now().UnixNano())
					if err := c.Chat(text); err != nil {
						collector.AddError()
						return
					}
				}
			}
		}(i, c)
	}
	mu.Unlock()

	// Progress reporting while the chat phase runs.
	progressTicker := time.NewTicker(5 * time.Second)
	defer progressTicker.Stop()
progressLoop:
	for {
		select {
		case <-chatCtx.Done():
			break progressLoop
		case <-progressTicker.C:
			mu.Lock()
			var sent, received int
			for _, c := range clients {
				m := c.GetMetrics()
				sent += m.MessagesSent
				received += m.MessagesReceived
			}
			mu.Unlock()
			fmt.Printf("  [chat] sent: %d  received: %d  errors: %d\n",
				sent, received, collector.ErrorCount())
		}
	}
	wg.Wait()

	// -----------------------------------------------------------------------
	// Cleanup and report
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")

	collector.Report()
}

// parseEchoTimestamp extracts the UnixNano timestamp from a "load N @<ns>"
// message body.
func parseEchoTimestamp(text string) (int64, bool) {
	idx := strings.LastIndexByte(text, '@')
	if idx < 0 {
		return 0, false
	}
	ns, err := strconv.ParseInt(text[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ns, true
}
