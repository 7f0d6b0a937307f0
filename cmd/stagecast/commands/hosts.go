package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast/pkg/config"
	"github.com/stagecast/stagecast/pkg/inventory"
)

func newHostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts [selector]",
		Short: "List inventory hosts",
		Long: `List the hosts in the inventory, optionally filtered by a target
selector.

Selectors use the same grammar as stage match expressions:
  - An exact host id: web1
  - A glob over host ids: web*
  - A label match: role=web
  - A grain-style label match: G@role:web`,
		Example: `  # List every host
  stagecast hosts

  # List hosts matching a selector
  stagecast hosts 'role=web'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAppConfig(configPath)
			if err != nil {
				return err
			}

			registry, err := inventory.LoadFile(cfg.Inventory)
			if err != nil {
				return err
			}

			var hosts []*inventory.Host
			if len(args) > 0 {
				hosts, err = registry.Select(args[0])
				if err != nil {
					return err
				}
			} else {
				for _, id := range registry.IDs() {
					if h, ok := registry.Get(id); ok {
						hosts = append(hosts, h)
					}
				}
			}
			sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(hosts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADDRESS\tUSER\tLABELS")
			for _, h := range hosts {
				labels := make([]string, 0, len(h.Labels))
				for k, v := range h.Labels {
					labels = append(labels, k+"="+v)
				}
				sort.Strings(labels)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					h.ID, h.Address, h.User, strings.Join(labels, ","))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d host(s)\n", len(hosts))
			return nil
		},
	}

	return cmd
}
