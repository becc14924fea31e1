// Command chatcli is a small terminal client for exercising a running chat
// server: it logs in, opens the websocket channel and either sends one
// message, requests history, or sits listening for pushes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type cliConfig struct {
	serverURL string
	username  string
	password  string
	token     string
	mode      string
	to        int64
	content   string
	friendID  int64
	timeout   time.Duration
}

func main() {
	cfg := parseConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("chatcli failed: %v", err)
	}
}

func parseConfig() cliConfig {
	var cfg cliConfig
	flag.StringVar(&cfg.serverURL, "server", "http://127.0.0.1:8080", "Base URL of the chat server")
	flag.StringVar(&cfg.username, "user", "", "Username to log in with (ignored when -token is set)")
	flag.StringVar(&cfg.password, "password", "", "Password to log in with")
	flag.StringVar(&cfg.token, "token", "", "Bearer token; skips the login call")
	flag.StringVar(&cfg.mode, "mode", "listen", "What to do once connected (send|history|listen)")
	flag.Int64Var(&cfg.to, "to", 0, "Receiver user id for -mode send")
	flag.StringVar(&cfg.content, "content", "", "Message body for -mode send")
	flag.Int64Var(&cfg.friendID, "friend", 0, "Friend user id for -mode history")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Overall timeout for send/history modes")
	flag.Parse()

	switch cfg.mode {
	case "send":
		if cfg.to == 0 || cfg.content == "" {
			log.Fatal("-mode send requires -to and -content")
		}
	case "history":
		if cfg.friendID == 0 {
			log.Fatal("-mode history requires -friend")
		}
	case "listen":
	default:
		log.Fatalf("unsupported mode %s (expected send, history or listen)", cfg.mode)
	}
	if cfg.token == "" && (cfg.username == "" || cfg.password == "") {
		log.Fatal("either -token or -user and -password are required")
	}
	return cfg
}

func run(cfg cliConfig) error {
	ctx := context.Background()
	if cfg.mode != "listen" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	} else {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	token := cfg.token
	if token == "" {
		var err error
		token, err = login(ctx, cfg)
		if err != nil {
			return err
		}
	}

	conn, err := dial(ctx, cfg.serverURL, token)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch cfg.mode {
	case "send":
		return sendOne(ctx, conn, cfg.to, cfg.content)
	case "history":
		return fetchHistory(ctx, conn, cfg.friendID)
	default:
		return listen(ctx, conn)
	}
}

func login(ctx context.Context, cfg cliConfig) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": cfg.username,
		"password": cfg.password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.serverURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.AccessToken, nil
}

func dial(ctx context.Context, serverURL, token string) (*websocket.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/chat/ws"
	u.RawQuery = "token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, nil
}

func sendOne(ctx context.Context, conn *websocket.Conn, to int64, content string) error {
	frame := map[string]any{"type": "message", "to": to, "content": content}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	// The echo confirms persistence; anything else is a routing error.
	reply, err := readFrame(ctx, conn)
	if err != nil {
		return err
	}
	if msg, ok := reply["error"]; ok {
		return fmt.Errorf("server rejected message: %v", msg)
	}
	fmt.Printf("sent at %v\n", reply["timestamp"])
	return nil
}

func fetchHistory(ctx context.Context, conn *websocket.Conn, friendID int64) error {
	frame := map[string]any{"type": "history", "friend_id": friendID}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	reply, err := readFrame(ctx, conn)
	if err != nil {
		return err
	}
	if msg, ok := reply["error"]; ok {
		return fmt.Errorf("server rejected history request: %v", msg)
	}

	messages, _ := reply["messages"].([]any)
	for _, raw := range messages {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("[%v] %v -> %v: %v\n", m["timestamp"], m["from"], m["to"], m["content"])
	}
	fmt.Printf("%d message(s)\n", len(messages))
	return nil
}

func listen(ctx context.Context, conn *websocket.Conn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	log.Print("listening for pushes, ctrl-c to stop")
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		out, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		fmt.Println(string(out))
	}
}

func readFrame(ctx context.Context, conn *websocket.Conn) (map[string]any, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return frame, nil
}
