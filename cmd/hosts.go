package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/noticed"
)

func newHostsCmd(load func() (config.Config, error)) *cobra.Command {
	var (
		dir   string
		stack string
	)
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List queued hosts and their pending counts",
		Long: `Opens the queue directory and prints one line per host with pending
requests. Opening is not read-only: empty depth stores and drained host directories
are deleted, as the service does at startup. Stop the service first; queue files are
locked while it runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				dir = cfg.Frontier.QueuesDir
			}
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("queue directory: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("queue directory %s is not a directory", dir)
			}
			stacks := noticed.Stacks
			if stack != "" {
				s, err := noticed.ParseStackType(stack)
				if err != nil {
					return err
				}
				stacks = []noticed.StackType{s}
			}
			frontier, err := noticed.Open(dir, balancer.Deps{}, balancer.Options{})
			if err != nil {
				return fmt.Errorf("open frontier: %w", err)
			}
			defer func() { _ = frontier.Close() }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STACK\tHOST\tPORT\tHOST HASH\tPENDING")
			for _, s := range stacks {
				hosts, err := frontier.Hosts(s)
				if err != nil {
					return fmt.Errorf("list %s hosts: %w", s, err)
				}
				for _, h := range hosts {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", s, h.Host, h.Port, h.HostHash, h.Size)
				}
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("write hosts: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "queue directory (default is frontier.queues_dir)")
	cmd.Flags().StringVar(&stack, "stack", "", "only list this stack (local, global, remote, noload)")
	return cmd
}
