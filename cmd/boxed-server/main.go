// Command boxed-server runs the sandboxed code-runner API: it accepts a
// bundle of source files plus one or more execution phases, runs each
// phase inside an isolate sandbox, and returns captured stdout/stderr and
// resource-usage metadata per phase.
package main

import "github.com/akshayaggarwal99/boxed/internal/cli"

func main() {
	cli.Execute()
}
