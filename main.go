package main

import (
	"os"

	"github.com/llamacompass/compass/cmd"
)

// main function remains to call Execute.
func main() {
	cmd.Execute(os.Args[1:])
}
