package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go-realtime/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

type stats struct {
	sent      atomic.Int64
	channel   atomic.Int64
	global    atomic.Int64
	failures  atomic.Int64
	presences atomic.Int64
}

var (
	baseURL   = flag.String("base", "http://localhost:8080", "http base url")
	wsURL     = flag.String("ws", "ws://localhost:8080/ws", "websocket url")
	projectID = flag.String("project", "", "existing project id")
	channelID = flag.String("channel", "", "existing channel id in the project")
	users     = flag.Int("users", 100, "concurrent users")
	msgCount  = flag.Int("messages", 20, "messages per user")
	settle    = flag.Duration("settle", 3*time.Second, "time to drain events after sending")
)

func main() {
	flag.Parse()
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	if *projectID == "" || *channelID == "" {
		log.Fatal("-project and -channel are required")
	}

	log.Info("starting stress test", zap.Int("users", *users), zap.Int("messages", *msgCount))
	var (
		wg sync.WaitGroup
		st stats
	)
	start := time.Now()
	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runUser(log, &st, n)
		}(i)
	}
	wg.Wait()

	sent := st.sent.Load()
	log.Info("load test complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("sent", sent),
		zap.Int64("new_message", st.channel.Load()),
		zap.Int64("new_message_global", st.global.Load()),
		zap.Int64("presence_snapshots", st.presences.Load()),
		zap.Int64("failures", st.failures.Load()))
}

func runUser(log *zap.Logger, st *stats, n int) {
	username := fmt.Sprintf("load_%d", n)
	auth, err := authenticate(username, "password123")
	if err != nil {
		log.Warn("login failed", zap.String("user", username), zap.Error(err))
		st.failures.Add(1)
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL+"?token="+url.QueryEscape(auth.Token), nil)
	if err != nil {
		log.Warn("ws connect failed", zap.String("user", username), zap.Error(err))
		st.failures.Add(1)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readEvents(conn, st)
	}()

	for _, intent := range []realtime.Intent{
		realtime.JoinProject{ProjectID: realtime.ProjectID(*projectID)},
		realtime.JoinChannel{ChannelID: realtime.ChannelID(*channelID)},
	} {
		data, _ := realtime.EncodeIntent(intent)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			st.failures.Add(1)
			return
		}
	}

	for i := 0; i < *msgCount; i++ {
		body := map[string]string{
			"messageId": uuid.NewString(),
			"content":   fmt.Sprintf("LoadTest Msg %d from %s", i, username),
		}
		if err := postMessage(auth.Token, body); err != nil {
			log.Warn("send failed", zap.String("user", username), zap.Error(err))
			st.failures.Add(1)
			break
		}
		st.sent.Add(1)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(*settle)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	<-done
}

func readEvents(conn *websocket.Conn, st *stats) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		evt, err := realtime.DecodeEvent(data)
		if err != nil {
			st.failures.Add(1)
			continue
		}
		switch evt.(type) {
		case realtime.NewMessage:
			st.channel.Add(1)
		case realtime.NewMessageGlobal:
			st.global.Add(1)
		case realtime.ProjectOnlineUsers:
			st.presences.Add(1)
		}
	}
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(username, password string) (*AuthResponse, error) {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON("/register", "", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", "", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login status %d", resp.StatusCode)
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func postMessage(token string, body map[string]string) error {
	resp, err := postJSON("/api/channels/"+*channelID+"/messages", token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("post status %d", resp.StatusCode)
	}
	return nil
}

func postJSON(endpoint, token string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	req, err := http.NewRequest(http.MethodPost, *baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
