package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/query"
)

// --- Main Function ---
func main() {
	// Define command-line flags
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of ns-api.")
	configPath := flag.String("config", "configs/config.yaml", "Config used for direct ClickHouse access.")
	until := flag.String("until", "", "Newest snapshot to consider, RFC3339 (optional).")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*apiAddr, *until)
	case "direct":
		directQueryClickHouse(*configPath, *until)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

// --- API Query Logic ---
func queryViaAPI(base, until string) {
	u := base + "/api/v1/history"
	if until != "" {
		u += "?until=" + url.QueryEscape(until)
	}
	log.Printf("Sending request to %s", u)

	resp, err := http.Get(u)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Fatalf("Error formatting JSON response: %v", err)
	}
	fmt.Println(prettyJSON.String())
}

// --- Direct ClickHouse Query Logic ---
func directQueryClickHouse(configPath, until string) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	var untilTime time.Time
	if until != "" {
		if untilTime, err = time.Parse(time.RFC3339, until); err != nil {
			log.Fatalf("Invalid until time: %v", err)
		}
	}

	q, err := query.NewClickHouseQuerier(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summaries, err := q.Summaries(ctx, untilTime)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Println("--- Latest table snapshots ---")
	for _, s := range summaries {
		fmt.Printf("%-10s %s  conversations=%d frames=%d bytes=%d\n",
			s.Table, s.Snapshot.Format(time.RFC3339), s.Conversations, s.TotalFrames, s.TotalBytes)
	}
}
