/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/trustbloc/vc-anchor/cmd/anchor-rest/reconcilecmd"
	"github.com/trustbloc/vc-anchor/cmd/anchor-rest/startcmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use: "anchor-rest",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd(&startcmd.HTTPServer{}))
	rootCmd.AddCommand(reconcilecmd.GetReconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to run anchor-rest: %s", err.Error())
	}
}
