// Command cqlprobe connects to a Cassandra cluster and inspects it through
// the cqlcore driver: list hosts, run statements and measure latency.
package main

import (
	"os"

	"github.com/arloliu/cqlcore/cmd/cqlprobe/command"
)

func main() {
	if err := command.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
