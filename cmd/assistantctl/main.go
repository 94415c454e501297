// Command assistantctl is the operator tool for the relocation assistant:
// it inspects and repairs the stores the webhook writes and can answer a
// question from the terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Getenv, buildApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
