// The main package for the kenyalaw-crawler executable.
package main

import (
	"github.com/JakeFAU/kenyalaw-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
