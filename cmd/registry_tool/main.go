// Command registry_tool starts tools on request and keeps track of them.
//
// Usage: registry_tool [-config file] <port>
// The boot payload is read from stdin.
package main

import (
	"os"

	"github.com/bobmcallan/toolmesh/internal/app"
	"github.com/bobmcallan/toolmesh/internal/toolmain"
)

func main() {
	os.Exit(toolmain.Run("registry_tool", app.NewRegistryTool))
}
