// Package main contains the entrypoint for the videoroom client.
package main

import (
	"fmt"
	"os"

	"github.com/kevin29a/videoroom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
