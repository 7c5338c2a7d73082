// ./main.go
package main

import (
	"github.com/xkilldash9x/scrapeflow/cmd"
)

// main is the entry point for the scrapeflow CLI.
func main() {
	cmd.Execute()
}
