// Command blocking-server answers one connection at a time on its accept loop.
package main

import (
	"os"

	"github.com/astavonin/linegreet/internal/app"
	"github.com/astavonin/linegreet/internal/config"
)

func main() {
	os.Exit(app.RunServer("blocking-server", config.Blocking(), os.Args[1:]))
}
