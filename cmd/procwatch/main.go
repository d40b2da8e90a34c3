// procwatch scores industrial process telemetry against per-variable
// forecasts and records anomalies.
//
// Usage:
//
//	procwatch run     [--interval=10m] [--mode=batch|individual] [--no-retrain]
//	procwatch once    [--lookback=1h]
//	procwatch retrain
//	procwatch summary [--since=24h]
//	procwatch export  --out=<dir> [--since=24h]
//	procwatch evaluate [--since=24h] [--out=<dir>]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
