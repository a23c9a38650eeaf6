package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	pkgws "booking-inbox/client/pkg/ws"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "http://localhost:8090", "Gateway address")
	conversation := flag.String("conversation", "", "Conversation id to watch or send to")
	listen := flag.Bool("listen", false, "Stream inbox and conversation frames")
	text := flag.String("send", "", "Message text to send")
	file := flag.String("file", "", "Attachment to send")
	token := flag.String("token", "", "Sign the gateway in with this bearer token first")
	flag.Parse()

	if !*listen && *text == "" && *file == "" && *token == "" {
		fmt.Println("inboxctl usage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *token != "" {
		if err := login(*addr, *token); err != nil {
			log.Fatalf("Login failed: %v", err)
		}
	}

	if *text != "" || *file != "" {
		if *conversation == "" {
			log.Fatal("-conversation is required to send")
		}
		if err := send(*addr, *conversation, *text, *file); err != nil {
			log.Fatalf("Send failed: %v", err)
		}
	}

	if *listen {
		if err := watch(*addr, *conversation); err != nil {
			log.Fatalf("Listener stopped: %v", err)
		}
	}
}

func login(addr, token string) error {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}
	resp, err := http.Post(strings.TrimRight(addr, "/")+"/api/session", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error response: %s, status: %d", string(raw), resp.StatusCode)
	}
	fmt.Println("signed in:", string(raw))
	return nil
}

func send(addr, conversationID, text, path string) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("content", text); err != nil {
		return err
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer f.Close()

		mt, err := mimetype.DetectFile(path)
		if err != nil {
			return fmt.Errorf("error detecting file type: %w", err)
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
		header.Set("Content-Type", mt.String())
		part, err := writer.CreatePart(header)
		if err != nil {
			return fmt.Errorf("error creating form file: %w", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return fmt.Errorf("error copying file: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("error closing writer: %w", err)
	}

	target := strings.TrimRight(addr, "/") + "/api/threads/" + url.PathEscape(conversationID) + "/send"
	req, err := http.NewRequest(http.MethodPost, target, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := &http.Client{Timeout: time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Alerts   []string `json:"alerts"`
		Redirect string   `json:"redirect"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &result)
	for _, a := range result.Alerts {
		fmt.Println("alert:", a)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error response: %s, status: %d", string(raw), resp.StatusCode)
	}
	if result.Redirect != "" {
		fmt.Println("message landed in conversation", result.Redirect)
	}
	fmt.Println("sent")
	return nil
}

func watch(addr, conversationID string) error {
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(addr, "/"), "http") + "/ws"

	log.Println("Connecting to WebSocket...")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("error connecting to websocket: %w", err)
	}
	defer conn.Close()
	log.Println("Connected to WebSocket")

	if conversationID != "" {
		sub := pkgws.Envelope{Type: pkgws.TypeSubscribe, Payload: pkgws.SubscribePayload{ConversationID: conversationID}}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("error subscribing: %w", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f pkgws.Inbound
			if err := conn.ReadJSON(&f); err != nil {
				log.Printf("WebSocket read error: %v", err)
				return
			}
			switch f.Type {
			case pkgws.TypePong:
			default:
				log.Printf("%s %s", f.Type, string(f.Payload))
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log.Println("Listening. Press Ctrl+C to exit...")
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			if err := conn.WriteJSON(pkgws.Envelope{Type: pkgws.TypePing}); err != nil {
				return fmt.Errorf("error writing ping: %w", err)
			}
		case <-interrupt:
			log.Println("Interrupt received, shutting down...")
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Printf("Error during closing websocket: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		}
	}
}
