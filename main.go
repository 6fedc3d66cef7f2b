// The main package for the searchtap executable.
package main

import (
	"github.com/JakeFAU/search-console-tap/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
