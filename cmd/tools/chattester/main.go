// chattester drives the relay server from the command line: it ensures a
// session, streams one turn, prints tokens as they arrive, and can
// optionally regenerate the reply. Useful for poking at a running server
// without a browser.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/streamloop/chatrelay/pkg/streamclient"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env file, using system environment: %v", err)
	}

	server := flag.String("server", "http://localhost:8787", "relay server base URL")
	session := flag.String("session", "", "session id (generated when empty)")
	model := flag.String("model", "", "model override (server default when empty)")
	system := flag.String("system", "You are a concise, helpful AI assistant.", "system prompt")
	message := flag.String("message", "", "user message to send")
	regen := flag.Bool("regen", false, "regenerate the reply after the first stream")
	timeout := flag.Duration("timeout", 2*time.Minute, "per-turn timeout")

	flag.Parse()

	if *message == "" {
		flag.Usage()
		log.Fatal("a -message is required")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("tester-%d", time.Now().UnixNano())
	}

	client := streamclient.New(*server)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := client.EnsureSession(ctx, sessionID); err != nil {
		log.Fatalf("ensure session: %v", err)
	}
	log.Printf("session %s ready", sessionID)

	history := streamclient.NewHistory(*system)
	history.Append("user", *message)

	if err := streamOnce(ctx, client, history, sessionID, *model); err != nil {
		log.Fatalf("stream: %v", err)
	}

	if *regen {
		if !history.DropLastAssistant() {
			log.Fatal("no assistant reply to regenerate")
		}
		log.Println("regenerating...")
		if err := streamOnce(ctx, client, history, sessionID, *model); err != nil {
			log.Fatalf("regenerate: %v", err)
		}
	}
}

func streamOnce(ctx context.Context, client *streamclient.Client, history *streamclient.History, sessionID, model string) error {
	start := time.Now()
	full, err := client.StreamTurn(ctx, history, sessionID, model, func(delta string) {
		fmt.Fprint(os.Stdout, delta)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	log.Printf("received %d chars in %s", len(full), time.Since(start).Round(time.Millisecond))
	return nil
}
