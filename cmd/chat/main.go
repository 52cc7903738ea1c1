// Command chat runs the model conversation loop over the registered tools.
//
// Usage: chat [-config file] <port>
// The boot payload is read from stdin.
package main

import (
	"os"

	"github.com/bobmcallan/toolmesh/internal/app"
	"github.com/bobmcallan/toolmesh/internal/toolmain"
)

func main() {
	os.Exit(toolmain.Run("chat", app.NewChatTool))
}
