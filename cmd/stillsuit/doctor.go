package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/stillsuit/internal/cli"
	"github.com/pthm/stillsuit/internal/doctor"
	"github.com/pthm/stillsuit/model"
)

var (
	doctorModel   string
	doctorBackend string
	doctorDB      string
	doctorPath    string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check deployment health",
	Long: `Run health checks against the configured model and backend.

Checks that the model file parses and validates, that the backend is
reachable, that its storage schema exists, and that search tokenization
works end to end.`,
	Example: `  # Check the configured deployment
  stillsuit doctor

  # Check a postgres backend with full details
  stillsuit doctor --backend postgres --db postgres://localhost/app -v`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := cfg.ResolvedModel(doctorModel)

		// The doctor reports a broken model itself; only open a backend
		// when the model loads, since every backend needs one.
		var d *doctor.Doctor
		m, err := model.LoadFile(modelPath)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			d = doctor.New(modelPath, nil, "")
		} else {
			kind := resolveString(doctorBackend, cfg.Backend.Kind)
			a, aerr := openAdapter(m, kind, doctorDB, doctorPath)
			if aerr != nil {
				return aerr
			}
			defer func() { _ = a.close() }()
			d = doctor.New(modelPath, a.be, a.kind)
		}

		report, err := d.Run(cmd.Context())
		if err != nil {
			return cli.GeneralError("running health checks", err)
		}
		report.Print(os.Stdout, resolveBool(verbose > 0, cfg.Doctor.Verbose))

		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorModel, "model", "", "path to the model file")
	f.StringVar(&doctorBackend, "backend", "", "backend kind (memory, postgres, sqlite)")
	f.StringVar(&doctorDB, "db", "", "postgres database URL")
	f.StringVar(&doctorPath, "path", "", "sqlite database file")
}
