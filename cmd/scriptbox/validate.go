package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/engine"
)

var validateLanguage string

var validateCmd = &cobra.Command{
	Use:   "validate <script-file>",
	Short: "Statically check a script without executing it",
	Long: `Parse a script and report syntax errors, banned constructs, and
suspicious patterns. Nothing is executed and no instance is contacted.

Examples:
  scriptbox validate cleanup.js
  scriptbox validate migrate.py
  scriptbox validate -l python scripts/reindex

Exit codes:
  0  script passed validation
  2  validation rejected the script`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateLanguage, "language", "l", "",
		"script language: javascript or python (inferred from the file extension when omitted)")
}

func runValidate(_ *cobra.Command, args []string) error {
	script, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	lang, err := resolveLanguage(validateLanguage, args[0])
	if err != nil {
		return err
	}

	res := engine.NewValidator().Validate(string(script), lang)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))

	if !res.Valid {
		os.Exit(ExitRejected)
	}
	return nil
}

// resolveLanguage picks the script language from the flag or the file extension.
func resolveLanguage(flag, path string) (domain.Language, error) {
	if flag != "" {
		lang := domain.Language(strings.ToLower(flag))
		if !lang.Valid() {
			return "", fmt.Errorf("unsupported language %q (use javascript or python)", flag)
		}
		return lang, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return domain.LanguageJavaScript, nil
	case ".py":
		return domain.LanguagePython, nil
	default:
		return "", fmt.Errorf("cannot infer language from %q: pass --language", filepath.Base(path))
	}
}
