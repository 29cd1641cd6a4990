package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/semsql/pkg/registry"
	"github.com/user/semsql/pkg/rewrite"
)

var (
	rewriteSQLFlag string
	rewriteFile    string
)

func init() {
	rewriteCmd.Flags().StringVar(&rewriteSQLFlag, "sql", "", "SQL text to rewrite")
	rewriteCmd.Flags().StringVar(&rewriteFile, "file", "", "file containing SQL text to rewrite")
	rootCmd.AddCommand(rewriteCmd)
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Run a SQL statement through the semantic rewrite pipeline",
	Long:  `Strips directives and expands SEMANTIC_CASE/dimension/infix/vector-search sugar, printing the rewritten SQL and what changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := resolveRewriteInput()
		if err != nil {
			return err
		}

		reg, err := loadRegistry()
		if err != nil {
			return fmt.Errorf("load registry: %w", err)
		}

		result := rewrite.RewriteAll(sql, reg)

		if result.HasDirective {
			fmt.Printf("directive: %s\n", result.Directive.Type)
		}
		fmt.Printf("changed: %v\n", result.Changed)
		fmt.Println("---")
		fmt.Println(result.SQL)
		return nil
	},
}

func resolveRewriteInput() (string, error) {
	if rewriteSQLFlag != "" {
		return rewriteSQLFlag, nil
	}
	if rewriteFile != "" {
		data, err := os.ReadFile(rewriteFile)
		if err != nil {
			return "", fmt.Errorf("read sql file: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("one of --sql or --file is required")
}

// loadRegistry builds a Registry from --cascade-dir (repeatable via
// whitespace-separated SEMSQL_CASCADE_DIR or the engine config's cascade_dirs).
// An empty registry is returned (never an error) when no directories are
// configured, matching rewrite.RewriteAll's fail-closed behaviour: with no
// registered functions the pipeline is a no-op pass-through.
func loadRegistry() (*registry.Registry, error) {
	reg := registry.New()

	dirs := viper.GetStringSlice("cascade_dir")
	if cascadeDir != "" {
		dirs = append(dirs, cascadeDir)
	}
	cfg := loadConfig()
	dirs = append(dirs, cfg.Registry.CascadeDirs...)

	if len(dirs) == 0 {
		return reg, nil
	}
	if err := reg.Load(dirs...); err != nil {
		return nil, err
	}
	return reg, nil
}
