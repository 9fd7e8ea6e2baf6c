// Command summitflow-term runs the multiplexed terminal bridge service:
// an HTTP/WebSocket server backed by tmux sessions, with a cobra-rooted
// CLI for the serve and reconcile-once operations.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
