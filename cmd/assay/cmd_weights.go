package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-assay/internal/domain"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect and change fusion weights",
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current weight set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()
		return printJSON(cmd.OutOrStdout(), s.rt.Engine.Weights())
	},
}

var weightsSetSkill string

// weightFlags maps each source kind to its flag name.
var weightFlags = map[domain.SourceKind]string{
	domain.SourceModel:              "model",
	domain.SourceTextDerived:        "text-derived",
	domain.SourceInteractionDerived: "interaction-derived",
	domain.SourceHumanRated:         "human-rated",
}

var weightsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Validate and apply new weights for one skill",
	Long: `Applies the given weights to the skill and prints the resulting weight
set. Kinds not named keep their configured weight. The change lives in this
process only; edit the configuration file to make it permanent.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()

		snap, ok := s.rt.Engine.Weights().For(weightsSetSkill)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownSkill, weightsSetSkill)
		}
		changed := false
		for _, kind := range domain.AllSourceKinds {
			name := weightFlags[kind]
			if !cmd.Flags().Changed(name) {
				continue
			}
			v, err := cmd.Flags().GetFloat64(name)
			if err != nil {
				return err
			}
			snap[kind] = v
			changed = true
		}
		if !changed {
			return fmt.Errorf("no weights given")
		}

		if _, err := s.rt.Engine.UpdateWeights(weightsSetSkill, snap); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s.rt.Engine.Weights())
	},
}

var weightsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the configuration file and print the weights it yields",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.rt.Engine.ReloadWeights(cmd.Context()); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s.rt.Engine.Weights())
	},
}

func init() {
	weightsSetCmd.Flags().StringVar(&weightsSetSkill, "skill", "", "skill to update")
	_ = weightsSetCmd.MarkFlagRequired("skill")
	for _, kind := range domain.AllSourceKinds {
		weightsSetCmd.Flags().Float64(weightFlags[kind], 0, fmt.Sprintf("weight for the %s source", kind))
	}
	weightsCmd.AddCommand(weightsShowCmd, weightsSetCmd, weightsReloadCmd)
}
