// Command docchat answers questions about an indexed document collection.
// It provides a CLI for one-off questions and an HTTP server that streams
// grounded answers to a chat front end.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docchat-go/cmd/docchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
