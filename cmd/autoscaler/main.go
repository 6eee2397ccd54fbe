// Command autoscaler keeps one frame parser worker running per active camera
// stream.
//
// Usage:
//
//	autoscaler run                    # reconcile on a schedule, serve /metrics and the admin API
//	autoscaler tick                   # one reconciliation pass, then exit
//	autoscaler migrate [--apply]      # print or apply the SQL schema
//	autoscaler assignments list       # show the mapping store
//	autoscaler assignments clear CAM  # retry a FAILED camera
//
// Configuration is read from --config (TOML), .env and the environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
