// mailer-sink is a local stand-in for the email provider API. It accepts
// sends, records them, and can be told to fail a fraction of requests to
// exercise the dispatcher's retry path. Point MAILER_URL at /send.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type message struct {
	Timestamp string `json:"timestamp"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Recipient string `json:"recipient_id"`
	Body      string `json:"body"`
}

type stats struct {
	Accepted     int64     `json:"accepted"`
	Rejected     int64     `json:"rejected"`
	LastMessages []message `json:"last_messages"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	accepted     int64
	rejected     int64
	lastMessages []message
	since        time.Time
	maxStored    = 50
	failRate     float64
)

func main() {
	since = time.Now().UTC()

	addr := ":8025"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("FAIL_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			failRate = f
		}
	}

	http.HandleFunc("/send", sendHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		accepted = 0
		rejected = 0
		lastMessages = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("mailer-sink listening on %s (fail_rate=%.2f)", addr, failRate)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func sendHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	var payload struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		HTML    string `json:"html"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"invalid json"}`)
		return
	}

	if failRate > 0 && rand.Float64() < failRate {
		mu.Lock()
		rejected++
		current := rejected
		mu.Unlock()
		log.Printf("rejected #%d: to=%s (simulated failure)", current, payload.To)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"simulated provider failure"}`)
		return
	}

	msg := message{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		To:        payload.To,
		Subject:   payload.Subject,
		Recipient: r.Header.Get("X-Mailer-Recipient-ID"),
		Body:      payload.HTML,
	}

	mu.Lock()
	accepted++
	lastMessages = append(lastMessages, msg)
	if len(lastMessages) > maxStored {
		lastMessages = lastMessages[len(lastMessages)-maxStored:]
	}
	current := accepted
	mu.Unlock()

	log.Printf("accepted #%d: to=%s subject=%q", current, payload.To, payload.Subject)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"sink-%d"}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Accepted:     accepted,
		Rejected:     rejected,
		LastMessages: lastMessages,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
