// The main package for the contributor-crawler executable.
package main

import (
	"github.com/JakeFAU/contributor-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
