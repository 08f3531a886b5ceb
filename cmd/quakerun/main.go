// Command quakerun drives the template-matching pipeline of an earthquake
// swarm: it creates runs, resumes them after failures or parameter changes
// and hands the heavy steps to the batch scheduler.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/quakerun/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands print their own errors; flag and argument errors from
	// cobra arrive here unprinted.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(cli.ExitCommandError)
}
