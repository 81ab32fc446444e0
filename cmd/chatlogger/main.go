// The chatlogger process consumes chat log entries from NATS and appends
// them to per-room daily log files. Running it out of process keeps disk
// I/O off the chat server's event path entirely.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/majlis/chat-app/internal/messaging"
)

func main() {
	_ = godotenv.Load(".env")

	log.Println("Starting Majlis chat logger...")

	logDir := "logs"
	if v := os.Getenv("LOG_DIR"); v != "" {
		logDir = v
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Fatalf("failed to create log directory %s: %v", logDir, err)
	}

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "majlis-chatlogger"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	writer := &logWriter{dir: logDir}

	if err := natsClient.SubscribeChatLog(writer.append); err != nil {
		log.Fatalf("failed to subscribe to chat log: %v", err)
	}

	log.Printf("Majlis chat logger running")
	log.Printf("  nats_url: %s", natsConfig.URL)
	log.Printf("  log_dir:  %s", logDir)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}

// logWriter appends entries to <dir>/<room>_<YYYY-MM-DD>.log. Entries for
// one room on one day share a file; the writer serializes appends.
type logWriter struct {
	dir string
	mu  sync.Mutex
}

func (w *logWriter) append(entry messaging.LogEntry) {
	ts := time.Unix(entry.Ts, 0)
	name := fmt.Sprintf("%s_%s.log", sanitizeRoom(entry.Room), ts.Format("2006-01-02"))
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", ts.Format("15:04:05"), entry.Kind, entry.User, entry.Text)

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[logger] open %s: %v", name, err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		log.Printf("[logger] write %s: %v", name, err)
	}
}

// sanitizeRoom keeps room-derived file names flat: path separators and
// parent references are replaced so a hostile room name cannot escape the
// log directory.
func sanitizeRoom(room string) string {
	room = strings.ReplaceAll(room, "/", "_")
	room = strings.ReplaceAll(room, "\\", "_")
	room = strings.ReplaceAll(room, "..", "_")
	if room == "" {
		room = "unknown"
	}
	return room
}
