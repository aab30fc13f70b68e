// Command test-scan is a manual test for oximeter discovery.
// It scans for devices advertising the oximeter service and lists them.
//
// Usage:
//
//	go run ./cmd/test-scan [--timeout 10s]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/oximeter-bridge/internal/ble"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "how long to scan")
	flag.Parse()

	fmt.Printf("Scanning for oximeters for %s...\n", *timeout)
	fmt.Println("Switch the oximeter on and put a finger in.")

	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), *timeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No oximeters found.")
		return
	}
	for i, d := range devices {
		fmt.Printf("%d. %s  %q  RSSI %d\n", i+1, d.Address, d.Name, d.RSSI)
	}
	fmt.Println("\nDone!")
}
