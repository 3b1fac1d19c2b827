package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/defang"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/detection"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <value>",
	Short: "Classify a single value",
	Example: `  spotter classify "hxxps://evil[.]example[.]com/payload"
  spotter classify d41d8cd98f00b204e9800998ecf8427e`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := validateFormat(output); err != nil {
			return err
		}

		c, ok := detection.Classify(nil, args[0])
		out := cmd.OutOrStdout()
		result := struct {
			Value    string `json:"value" yaml:"value"`
			Detected bool   `json:"detected" yaml:"detected"`
			Type     string `json:"type,omitempty" yaml:"type,omitempty"`
			HashKind string `json:"hash_kind,omitempty" yaml:"hash_kind,omitempty"`
			Refanged string `json:"refanged_value,omitempty" yaml:"refanged_value,omitempty"`
		}{args[0], ok, string(c.Type), string(c.HashKind), c.RefangedValue}

		if done, err := writeStructured(out, output, result); done {
			return err
		}
		if !ok {
			fmt.Fprintln(out, color.New(color.FgYellow).Sprint("not an observable"))
			return nil
		}
		label := string(c.Type)
		if c.HashKind != types.HashNone {
			label += " (" + string(c.HashKind) + ")"
		}
		fmt.Fprintf(out, "%s\t%s\n", color.New(color.FgGreen).Sprint(label), c.RefangedValue)
		return nil
	},
}

var refangCmd = &cobra.Command{
	Use:   "refang <value>...",
	Short: "Undo defanging, e.g. hxxp://evil[.]com -> http://evil.com",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), defang.Refang(strings.Join(args, " ")))
		return nil
	},
}

var defangCmd = &cobra.Command{
	Use:   "defang <value>",
	Short: "Print the defanged spellings a platform may store for a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		variants := defang.GenerateDefangedVariants(defang.Refang(args[0]))
		if len(variants) == 0 {
			return fmt.Errorf("no defanged variants for %q", args[0])
		}
		for _, v := range variants {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd, refangCmd, defangCmd)
	classifyCmd.Flags().StringP("output", "o", formatText, "output format (text, json, yaml)")
}
