package main

import (
	"fmt"

	"github.com/danmuck/simp/internal/protocol"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show simpctl and wire format versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "simpctl version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "wire header: %d bytes, user field: %d bytes\n", protocol.HeaderSize, protocol.UserLen)
			return nil
		},
	}
}
