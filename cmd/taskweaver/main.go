// Command taskweaver is the reference CLI around the orchestration core: a
// deterministic boundary that canonicalizes CLI input (goal, config,
// blueprint) before any engine logic runs.
package main

import (
	"os"

	"taskweaver/internal/cliapp"
)

func main() {
	os.Exit(cliapp.Execute(os.Args[1:]))
}
