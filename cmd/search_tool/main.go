// Command search_tool searches the directory of tools that can be started.
//
// Usage: search_tool [-config file] <port>
// The boot payload is read from stdin.
package main

import (
	"os"

	"github.com/bobmcallan/toolmesh/internal/app"
	"github.com/bobmcallan/toolmesh/internal/toolmain"
)

func main() {
	os.Exit(toolmain.Run("search_tool", app.NewSearchTool))
}
