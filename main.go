// The main package for the pdfbatch executable.
package main

import (
	"pdfbatch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
