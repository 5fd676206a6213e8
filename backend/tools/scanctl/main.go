// scanctl emits signed scan events against an ingest gateway. It stands in
// for a lot scanner when exercising a deployment by hand:
//
//	scanctl -type entry -vehicle AB123CD -slot lot1/slot42
//	scanctl -type exit -vehicle AB123CD
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"parkngo/backend/libs/signing"
)

type scanPayload struct {
	EventID            string `json:"event_id"`
	Type               string `json:"type"`
	VehicleID          string `json:"vehicle_id"`
	SlotID             string `json:"slot_id,omitempty"`
	ScannerID          string `json:"scanner_id"`
	Timestamp          int64  `json:"timestamp"`
	RatePerMinCents    int64  `json:"rate_per_min_cents,omitempty"`
	EscrowDepositCents int64  `json:"escrow_deposit_cents,omitempty"`
}

func main() {
	var (
		url       = flag.String("url", "http://localhost:8080/ingest/scan", "ingest endpoint")
		secret    = flag.String("secret", os.Getenv("SCAN_SECRET"), "shared scan secret (or SCAN_SECRET env)")
		eventType = flag.String("type", "entry", "event type: entry or exit")
		vehicle   = flag.String("vehicle", "", "vehicle plate (required)")
		slot      = flag.String("slot", "", "slot id")
		scanner   = flag.String("scanner", "scanctl", "scanner id")
		rate      = flag.Int64("rate", 0, "rate override, cents per minute")
		escrow    = flag.Int64("escrow", 0, "escrow deposit override, cents")
	)
	flag.Parse()

	if *vehicle == "" {
		fmt.Fprintln(os.Stderr, "scanctl: -vehicle is required")
		os.Exit(2)
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "scanctl: -secret or SCAN_SECRET is required")
		os.Exit(2)
	}

	body, err := json.Marshal(scanPayload{
		EventID:            uuid.New().String(),
		Type:               *eventType,
		VehicleID:          *vehicle,
		SlotID:             *slot,
		ScannerID:          *scanner,
		Timestamp:          time.Now().Unix(),
		RatePerMinCents:    *rate,
		EscrowDepositCents: *escrow,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanctl: marshal payload: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanctl: build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signing.Header, signing.Sign(*secret, body))

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanctl: request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	fmt.Printf("%d %s\n", resp.StatusCode, bytes.TrimSpace(out))

	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}
