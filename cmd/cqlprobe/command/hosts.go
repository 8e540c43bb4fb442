package command

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arloliu/cqlcore"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the hosts the driver discovered and their state.",
	Args:  cobra.NoArgs,
	RunE:  runHosts,
}

func runHosts(cmd *cobra.Command, _ []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer closeSession(s)

	hosts := s.Hosts()
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Datacenter() != hosts[j].Datacenter() {
			return hosts[i].Datacenter() < hosts[j].Datacenter()
		}

		return hosts[i].Endpoint() < hosts[j].Endpoint()
	})

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENDPOINT\tDATACENTER\tRACK\tSTATE\tDISTANCE\tTOKENS\tVERSION")
	for _, h := range hosts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			h.Endpoint(), h.Datacenter(), h.Rack(), hostState(h), h.Distance(), len(h.Tokens()), h.Info().ReleaseVersion)
	}
	fmt.Fprintf(w, "\nprotocol version %d\n", s.ProtocolVersion())

	return w.Flush()
}

func hostState(h *cqlcore.Host) string {
	switch {
	case h.IsDraining():
		return "DRAINED"
	case h.IsUp():
		return "UP"
	default:
		return "DOWN"
	}
}
