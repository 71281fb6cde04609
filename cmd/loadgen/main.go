// Command loadgen opens many concurrent single-request connections.
package main

import (
	"os"

	"github.com/astavonin/linegreet/internal/app"
)

func main() {
	os.Exit(app.RunLoadGen("loadgen", os.Args[1:]))
}
