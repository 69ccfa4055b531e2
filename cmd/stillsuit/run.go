package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/stillsuit"
	"github.com/pthm/stillsuit/distill"
	"github.com/pthm/stillsuit/internal/cli"
)

var (
	runModel   string
	runBackend string
	runDB      string
	runPath    string
	runData    string
	runRoles   []string
	runProfile bool
)

var runCmd = &cobra.Command{
	Use:   "run <request-file>",
	Short: "Resolve a request against a backend",
	Long: `Resolve a request file and print the result envelope as JSON.

The memory backend starts empty; seed it with --data. Postgres and sqlite
backends resolve against whatever they already store.`,
	Example: `  # Resolve against the memory backend with seed data
  stillsuit run request.yaml --data fixtures.yaml --roles reader

  # Resolve against postgres, with profiling
  stillsuit run request.yaml --backend postgres --db postgres://localhost/app --profile`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m, err := loadModel(runModel)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return cli.GeneralError(fmt.Sprintf("reading request %s", args[0]), err)
		}
		op, err := distill.ParseOperation(raw)
		if err != nil {
			return cli.GeneralError("parsing request", err)
		}

		a, err := openAdapter(m, runBackend, runDB, runPath)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		if data := resolveString(runData, cfg.Run.Data); data != "" {
			if err := seedAdapter(ctx, a, data); err != nil {
				return err
			}
		}

		roles := runRoles
		if roles == nil {
			roles = cfg.Run.Roles
		}
		profile := resolveBool(runProfile, cfg.Run.Profile)

		opts := []stillsuit.Option{stillsuit.WithRoles(roles...)}
		if profile {
			opts = append(opts, stillsuit.WithTimings(), stillsuit.WithPlan())
		}

		resolver, err := stillsuit.New(m, a.be, opts...)
		if err != nil {
			return cli.GeneralError("creating resolver", err)
		}

		res, err := resolver.Resolve(ctx, op)
		if err != nil {
			return cli.GeneralError("resolving request", err)
		}

		envelope := map[string]any{"data": res.Data}
		if res.Err != nil {
			envelope["error"] = res.Err.Error()
		}
		if profile && res.Profile != nil {
			envelope["profile"] = res.Profile
		}
		fmt.Println(formatJSON(envelope))

		return nil
	},
}

// formatJSON renders a value as indented JSON, falling back to %v when the
// value cannot be marshaled.
func formatJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runModel, "model", "", "path to the model file")
	f.StringVar(&runBackend, "backend", "", "backend kind (memory, postgres, sqlite)")
	f.StringVar(&runDB, "db", "", "postgres database URL")
	f.StringVar(&runPath, "path", "", "sqlite database file")
	f.StringVar(&runData, "data", "", "seed data file (memory backend)")
	f.StringSliceVar(&runRoles, "roles", nil, "caller roles")
	f.BoolVar(&runProfile, "profile", false, "include timings and plan in the output")
}
