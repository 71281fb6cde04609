// Command threaded-server handles every connection on its own goroutine and
// memoizes replies by request text.
package main

import (
	"os"

	"github.com/astavonin/linegreet/internal/app"
	"github.com/astavonin/linegreet/internal/config"
)

func main() {
	os.Exit(app.RunServer("threaded-server", config.Threaded(), os.Args[1:]))
}
