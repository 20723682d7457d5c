// Command omega is the gateway's CLI entrypoint. The retrieval pack had no
// root main.go to ground this on (the teacher repo's cmd package defines
// cobra commands but no func main anywhere in the pack — a partial-
// retrieval gap, the same kind already noted for internal/sandbox and
// internal/webhook's tsnet wiring); this follows the standard Go layout of
// a thin cmd/<binary>/main.go delegating to a library cmd package.
package main

import "github.com/omegahq/gateway/cmd"

func main() {
	cmd.Execute()
}
