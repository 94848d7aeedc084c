// The main package for the shotpipe executable.
package main

import (
	"github.com/toolhub/shotpipe/cmd"
)

func main() {
	cmd.Execute()
}
