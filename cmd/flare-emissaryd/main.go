// Command flare-emissaryd runs the FlareEmissary indexer: block poller,
// alert matcher, hysteresis engine, and delivery queue producer, or one of
// its operational entrypoints (backfill, version).
package main

import (
	"flare-emissary/internal/cli"
)

func main() {
	cli.Execute()
}
