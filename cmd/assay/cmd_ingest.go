package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-assay/internal/application"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE",
	Short: "Load source scores, features and evidence from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		doc, err := application.ParseIngestFile(f)
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()

		w, ok := s.rt.Storage.(application.Ingester)
		if !ok {
			return fmt.Errorf("storage driver %q does not accept ingestion", s.cfg.Storage.Driver)
		}
		st, err := application.Ingest(cmd.Context(), w, doc, time.Now())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}
