package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/stillsuit/backend/memory"
	"github.com/pthm/stillsuit/distill"
	"github.com/pthm/stillsuit/internal/authz"
	"github.com/pthm/stillsuit/internal/cli"
	"github.com/pthm/stillsuit/internal/eval"
	"github.com/pthm/stillsuit/internal/flexsearch"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

var (
	explainModel string
	explainRoles []string
)

var explainCmd = &cobra.Command{
	Use:   "explain <request-file>",
	Short: "Print the query tree after each pipeline phase",
	Long: `Explain a request: print the query tree after building, after search
tokenization, and after authorization, then report whether the result is
statically known or requires backend execution.

Tokenization uses the reference tokenizer; no backend is contacted.`,
	Example: `  # Explain a request under specific roles
  stillsuit explain request.yaml --roles reader,staff`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModel(explainModel)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return cli.GeneralError(fmt.Sprintf("reading request %s", args[0]), err)
		}
		return explain(cmd.Context(), cmd.OutOrStdout(), m, raw, explainRoles)
	},
}

// explain runs the pipeline phases one by one, dumping the tree after each.
func explain(ctx context.Context, out io.Writer, m *model.Model, request []byte, roleOverride []string) error {
	op, err := distill.ParseOperation(request)
	if err != nil {
		return cli.GeneralError("parsing request", err)
	}

	tree, err := distill.Build(m, op)
	if err != nil {
		return cli.GeneralError("building query tree", err)
	}
	fmt.Fprintln(out, "--- after build ---")
	fmt.Fprintln(out, querytree.Dump(tree))

	tree, tokenized, err := flexsearch.Enrich(ctx, tree, memory.New(m))
	if err != nil {
		return cli.GeneralError("tokenizing search expressions", err)
	}
	if tokenized {
		fmt.Fprintln(out, "--- after tokenization ---")
		fmt.Fprintln(out, querytree.Dump(tree))
	}

	roles := roleOverride
	if roles == nil {
		roles = op.Roles
	}
	restrictions, err := authz.NewRestrictions(m, roles)
	if err != nil {
		return cli.GeneralError("resolving permissions", err)
	}
	tree = restrictions.Rewrite(tree)
	fmt.Fprintln(out, "--- after authorization ---")
	fmt.Fprintln(out, querytree.Dump(tree))

	value, ok, err := eval.Static(m, tree)
	if err != nil {
		return cli.GeneralError("static evaluation", err)
	}
	if ok {
		fmt.Fprintln(out, "--- statically resolved ---")
		fmt.Fprintln(out, formatJSON(value))
	} else {
		fmt.Fprintln(out, "--- requires backend execution ---")
	}

	return nil
}

func init() {
	f := explainCmd.Flags()
	f.StringVar(&explainModel, "model", "", "path to the model file")
	f.StringSliceVar(&explainRoles, "roles", nil, "caller roles (overrides roles in the request)")
}
