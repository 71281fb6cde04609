// Command pool-server queues connections onto a fixed pool of workers and
// memoizes replies by request text.
package main

import (
	"os"

	"github.com/astavonin/linegreet/internal/app"
	"github.com/astavonin/linegreet/internal/config"
)

func main() {
	os.Exit(app.RunServer("pool-server", config.Pool(), os.Args[1:]))
}
