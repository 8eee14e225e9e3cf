package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/writer"

	"github.com/dustin/go-humanize"
)

// Prints the conversations and endpoints of one table snapshot directory,
// i.e. <root>/<timestamp>/<table>.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <snapshot_table_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]

	var convs []model.Conversation
	if err := writer.ReadGob(filepath.Join(dir, "conversations.dat"), &convs); err != nil {
		log.Fatalf("Failed to read conversations: %v", err)
	}
	var eps []model.Endpoint
	if err := writer.ReadGob(filepath.Join(dir, "endpoints.dat"), &eps); err != nil {
		log.Fatalf("Failed to read endpoints: %v", err)
	}

	fmt.Printf("Conversations (%d):\n", len(convs))
	for i := range convs {
		c := &convs[i]
		fmt.Printf("  %s  %s frames  %s\n", c.Key(),
			humanize.Comma(int64(c.TxFrames+c.RxFrames)), humanize.Bytes(c.TxBytes+c.RxBytes))
	}
	fmt.Printf("Endpoints (%d):\n", len(eps))
	for i := range eps {
		e := &eps[i]
		fmt.Printf("  %s  tx %s  rx %s\n", e.Key(), humanize.Bytes(e.TxBytes), humanize.Bytes(e.RxBytes))
	}
}
