package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-assay/internal/domain"
)

var fuseFlags struct {
	subject string
	skill   string
}

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Fuse and explain one subject's skill",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()

		a, err := s.rt.Engine.FuseAndExplain(cmd.Context(), fuseFlags.subject, fuseFlags.skill)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), a)
	},
}

var batchFlags struct {
	subjects     []string
	subjectsFile string
	skills       []string
}

// batchLine is one unit's outcome as printed by the batch command.
type batchLine struct {
	SubjectID  string                  `json:"subject_id"`
	Skill      string                  `json:"skill"`
	Assessment *domain.FusedAssessment `json:"assessment,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Fuse and explain many subjects, one JSON line per unit",
	Long: `Processes every (subject, skill) pair in subject-major order. A failing
unit is reported on its own line and does not stop the rest. With no
--skill every configured skill is assessed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		subjects := batchFlags.subjects
		if batchFlags.subjectsFile != "" {
			more, err := readLines(batchFlags.subjectsFile)
			if err != nil {
				return err
			}
			subjects = append(subjects, more...)
		}
		if len(subjects) == 0 {
			return fmt.Errorf("no subjects: use --subjects or --subjects-file")
		}

		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()

		results := s.rt.Engine.BatchFuseAndExplain(cmd.Context(), subjects, batchFlags.skills)
		failed := 0
		for _, r := range results {
			line := batchLine{SubjectID: r.SubjectID, Skill: r.Skill, Assessment: r.Assessment}
			if r.Err != nil {
				line.Error = r.Err.Error()
				failed++
			}
			if err := printJSON(cmd.OutOrStdout(), line); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d units failed", failed, len(results))
		}
		return nil
	},
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func init() {
	fuseCmd.Flags().StringVar(&fuseFlags.subject, "subject", "", "subject ID")
	fuseCmd.Flags().StringVar(&fuseFlags.skill, "skill", "", "skill name")
	_ = fuseCmd.MarkFlagRequired("subject")
	_ = fuseCmd.MarkFlagRequired("skill")

	batchCmd.Flags().StringSliceVar(&batchFlags.subjects, "subjects", nil, "comma-separated subject IDs")
	batchCmd.Flags().StringVar(&batchFlags.subjectsFile, "subjects-file", "", "file with one subject ID per line")
	batchCmd.Flags().StringSliceVar(&batchFlags.skills, "skill", nil, "skill to assess (repeatable, default all)")
}
