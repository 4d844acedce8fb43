// The main package for the dealnews-crawler executable.
package main

import (
	"github.com/JakeFAU/dealnews-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
