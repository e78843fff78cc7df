// file: main.go
// version: 2.0.0
// guid: 7d2e5a90-3c1b-4f86-a4d7-e09b6c3f1a58

package main

import (
	"fmt"
	"os"

	"github.com/jdfalk/paced-downloader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
