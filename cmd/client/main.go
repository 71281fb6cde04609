// Command client sends one line to a server and prints the reply.
package main

import (
	"os"

	"github.com/astavonin/linegreet/internal/app"
)

func main() {
	os.Exit(app.RunClient("client", os.Args[1:]))
}
