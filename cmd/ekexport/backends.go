package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/ekexport/storage/registry"
)

func (a *app) backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the output backends linked into this binary",
		Args:  exactArgs(0, ""),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range registry.List(registry.UsageCLI) {
				if b.Description == "" {
					fmt.Fprintln(a.out, b.Name)
					continue
				}
				fmt.Fprintf(a.out, "%s\t%s\n", b.Name, b.Description)
			}
			return nil
		},
	}
}
