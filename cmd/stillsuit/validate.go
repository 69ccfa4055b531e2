package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateModel string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a model file",
	Long:  `Validate a model file: types, fields, references and permission profiles.`,
	Example: `  # Validate a specific model file
  stillsuit validate --model model.yaml

  # Validate using config file settings
  stillsuit validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModel(validateModel)
		if err != nil {
			return err
		}

		if !quiet {
			fmt.Printf("Model is valid. Found %d types:\n", len(m.Types))
			for _, t := range m.Types {
				searchable := 0
				for _, f := range t.Fields {
					if f.Searchable {
						searchable++
					}
				}
				fmt.Printf("  - %s (%d fields, %d searchable)\n", t.Name, len(t.Fields), searchable)
			}
			if len(m.Profiles) > 0 {
				fmt.Printf("Permission profiles: %d\n", len(m.Profiles))
			}
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateModel, "model", "", "path to the model file")
}
