package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kasdex/kasdex/internal/cli"
	"github.com/kasdex/kasdex/internal/filter"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Inspect and author the filter configuration",
}

var filterValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Load and validate a filter configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fc, err := filter.LoadFile(args[0])
		if err != nil {
			return err
		}
		if _, err := filter.Compile(fc); err != nil {
			return err
		}

		enabled := 0
		for _, r := range fc.Rules {
			if r.Enabled {
				enabled++
			}
		}
		if enabled == 0 {
			fmt.Println(cli.Warn("warning") + ": no enabled rules, every transaction falls through to the default")
		}

		fmt.Printf("%s: %d rule(s), default_store_payload=%v\n",
			cli.Banner("valid"), len(fc.Rules), fc.Settings.DefaultStorePayload)
		return nil
	},
}

var filterDescribeCmd = &cobra.Command{
	Use:   "describe <path>",
	Short: "Render the active filter configuration as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fc, err := filter.LoadFile(args[0])
		if err != nil {
			return err
		}
		return renderFilterDescription(fc)
	},
}

var filterInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Interactively author a new filter configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFilterInitWizard(args[0])
	},
}

func init() {
	filterCmd.AddCommand(filterValidateCmd, filterDescribeCmd, filterInitCmd)
	rootCmd.AddCommand(filterCmd)
}

// renderFilterDescription renders fc as a markdown document via glamour,
// falling back to the raw markdown when stdout isn't a terminal (piped
// output, CI logs).
func renderFilterDescription(fc *filter.FileConfig) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Filter configuration\n\n")
	fmt.Fprintf(&b, "Default store payload: **%v**\n\n", fc.Settings.DefaultStorePayload)
	fmt.Fprintf(&b, "| Priority | Name | Enabled | Tag | Module | Store payload |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	for _, r := range fc.Rules {
		fmt.Fprintf(&b, "| %d | %s | %v | %s | %s | %v |\n",
			r.Priority, r.Name, r.Enabled, r.Tag, r.Module, r.StorePayload)
	}

	if !cli.IsTerminal() {
		fmt.Print(b.String())
		return nil
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return fmt.Errorf("build markdown renderer: %w", err)
	}
	out, err := renderer.Render(b.String())
	if err != nil {
		return fmt.Errorf("render filter description: %w", err)
	}
	fmt.Print(out)
	return nil
}

// runFilterInitWizard walks an operator through authoring one rule at a
// time with huh, writing the result as YAML to path.
func runFilterInitWizard(path string) error {
	fc := &filter.FileConfig{}

	var defaultStorePayload bool
	var addAnother = true

	intro := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Store transaction payloads by default?").
				Description("Rules may override this per-rule with store_payload.").
				Value(&defaultStorePayload),
		),
	).WithTheme(huh.ThemeDracula())
	if err := intro.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return nil
		}
		return err
	}
	fc.Settings.DefaultStorePayload = defaultStorePayload

	for addAnother {
		var name, tag, module, category, repository, description string
		var priorityStr, txidPrefix, payloadPrefix string
		var enabled, storePayload bool

		group := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Rule name").Value(&name),
				huh.NewInput().Title("Priority (higher wins ties)").Value(&priorityStr),
				huh.NewConfirm().Title("Enabled").Value(&enabled),
				huh.NewInput().Title("Tag").Value(&tag),
				huh.NewInput().Title("Module").Value(&module),
			),
			huh.NewGroup(
				huh.NewInput().Title("Category").Value(&category),
				huh.NewInput().Title("Repository URL").Value(&repository),
				huh.NewInput().Title("Description").Value(&description),
			),
			huh.NewGroup(
				huh.NewInput().Title("TXID hex prefix (blank to skip)").Value(&txidPrefix),
				huh.NewInput().Title(`Payload prefix (blank to skip, "hex:<hex>" or literal text)`).Value(&payloadPrefix),
				huh.NewConfirm().Title("Store payload for this rule").Value(&storePayload),
			),
		).WithTheme(huh.ThemeDracula())
		if err := group.Run(); err != nil {
			if err == huh.ErrUserAborted {
				break
			}
			return err
		}

		priority, _ := strconv.Atoi(priorityStr)
		rule := filter.RuleConfig{
			Name:         name,
			Priority:     priority,
			Enabled:      enabled,
			Tag:          tag,
			Module:       module,
			Category:     category,
			Repository:   repository,
			Description:  description,
			StorePayload: storePayload,
		}
		if txidPrefix != "" {
			rule.Conditions.TXID = &filter.TXIDCondition{Prefix: txidPrefix}
		}
		if payloadPrefix != "" {
			rule.Conditions.Payload = []filter.PayloadCondition{{Prefix: payloadPrefix}}
		}
		fc.Rules = append(fc.Rules, rule)

		confirmMore := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().Title("Add another rule?").Value(&addAnother),
			),
		).WithTheme(huh.ThemeDracula())
		if err := confirmMore.Run(); err != nil {
			if err == huh.ErrUserAborted {
				break
			}
			return err
		}
	}

	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal filter config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("%s wrote %s with %d rule(s)\n", cli.Banner("done"), path, len(fc.Rules))
	return nil
}
