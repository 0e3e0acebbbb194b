/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package reconcilecmd

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/trustbloc/edge-core/pkg/log"
	cmdutils "github.com/trustbloc/edge-core/pkg/utils/cmd"

	"github.com/trustbloc/vc-anchor/cmd/anchor-rest/internal/wiring"
	"github.com/trustbloc/vc-anchor/pkg/pipeline"
)

const (
	subjectFlagName  = "did"
	subjectFlagUsage = "Subject DID whose pending transactions are resolved. Repeat the flag for several subjects." +
		" Alternatively, this can be set with the following environment variable: " + subjectEnvKey
	subjectEnvKey = wiring.EnvPrefix + "RECONCILE_DID"
)

var logger = log.New("vc-anchor/reconcile")

// GetReconcileCmd returns the cobra reconcile command.
func GetReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve pending transactions.",
		Long:  "Resolves DID registration and token transactions left pending by earlier runs and verifies the outcome.",
		RunE: func(cmd *cobra.Command, args []string) error {
			subjects, err := cmdutils.GetUserSetVarFromArrayString(cmd, subjectFlagName, subjectEnvKey, false)
			if err != nil {
				return fmt.Errorf("failed to build configuration : %w", err)
			}

			params, err := wiring.GetParameters(cmd)
			if err != nil {
				return fmt.Errorf("failed to build configuration : %w", err)
			}

			services, err := wiring.NewServices(wiring.Context(cmd), params)
			if err != nil {
				return err
			}

			results := make([]*pipeline.ReconcileResult, 0, len(subjects))

			var (
				failed  int
				lastErr error
			)

			for _, subject := range subjects {
				res, err := services.Pipeline.Reconcile(wiring.Context(cmd), subject)
				if err != nil {
					logger.Errorf("failed to reconcile %s : %s", subject, err)

					failed++
					lastErr = err
				}

				if res != nil {
					results = append(results, res)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if err := enc.Encode(results); err != nil {
				return err
			}

			if failed > 0 {
				return errors.Wrapf(lastErr, "failed to reconcile %d of %d subjects", failed, len(subjects))
			}

			logger.Infof("reconciled %d subjects", len(subjects))

			return nil
		},
	}

	createFlags(cmd)

	return cmd
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP(subjectFlagName, "", []string{}, subjectFlagUsage)

	wiring.CreateFlags(cmd)
}
