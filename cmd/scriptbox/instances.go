package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/okanya/scriptbox/internal/config"
	"github.com/okanya/scriptbox/internal/domain"
)

var (
	instancesConfigPath string

	addName     string
	addKind     string
	addHost     string
	addPort     int
	addUser     string
	addURI      string
	addPrefix   string
	addDisabled bool
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Manage registered database instances",
	Long: `List, register, remove, and probe the database instances scripts can
target. Instances hold connection coordinates and a credentials env var
prefix only; credential material stays in the environment.

Examples:
  scriptbox instances list
  scriptbox instances add --name orders-primary --kind postgresql \
      --host db1.internal --port 5432 --user scriptbox --credentials-env-prefix ORDERS
  scriptbox instances check orders-primary`,
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered instances",
	RunE:  runInstancesList,
}

var instancesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an instance in the store",
	RunE:  runInstancesAdd,
}

var instancesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a stored instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstancesRemove,
}

var instancesCheckCmd = &cobra.Command{
	Use:   "check [name...]",
	Short: "Probe instance connectivity",
	Long: `Probe the named instances, or all registered instances when no names
are given. Exits nonzero if any probe fails.`,
	RunE: runInstancesCheck,
}

func init() {
	instancesCmd.AddCommand(instancesListCmd, instancesAddCmd, instancesRemoveCmd, instancesCheckCmd)
	instancesCmd.PersistentFlags().StringVar(&instancesConfigPath, "config", config.DefaultConfigPath(), "path to config file")

	instancesAddCmd.Flags().StringVar(&addName, "name", "", "unique instance name (required)")
	instancesAddCmd.Flags().StringVar(&addKind, "kind", "", "database kind: postgresql or mongodb (required)")
	instancesAddCmd.Flags().StringVar(&addHost, "host", "", "database host")
	instancesAddCmd.Flags().IntVar(&addPort, "port", 0, "database port")
	instancesAddCmd.Flags().StringVar(&addUser, "user", "", "database user")
	instancesAddCmd.Flags().StringVar(&addURI, "uri", "", "connection URI (alternative to host/port, no embedded password)")
	instancesAddCmd.Flags().StringVar(&addPrefix, "credentials-env-prefix", "", "env var prefix workers resolve credentials from")
	instancesAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "register the instance without making it targetable")
	_ = instancesAddCmd.MarkFlagRequired("name")
	_ = instancesAddCmd.MarkFlagRequired("kind")
}

func runInstancesList(_ *cobra.Command, _ []string) error {
	sc, err := initInstanceComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	insts, err := sc.Registry.List(context.Background())
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		fmt.Println("No instances registered.")
		return nil
	}

	fmt.Printf("%-20s  %-11s  %-25s  %-6s  %-12s  %-10s  %s\n",
		"NAME", "KIND", "HOST/URI", "PORT", "ENV PREFIX", "ENABLED", "USER")
	for _, inst := range insts {
		target := inst.Host
		if target == "" {
			target = redactURI(inst.URI)
		}
		port := ""
		if inst.Port > 0 {
			port = fmt.Sprintf("%d", inst.Port)
		}
		fmt.Printf("%-20s  %-11s  %-25s  %-6s  %-12s  %-10t  %s\n",
			inst.Name, inst.Kind, target, port, inst.CredentialsEnvPrefix, inst.Enabled, inst.User)
	}
	return nil
}

func runInstancesAdd(_ *cobra.Command, _ []string) error {
	kind := domain.DatabaseKind(strings.ToLower(addKind))
	if !kind.Valid() {
		return fmt.Errorf("unsupported database kind %q (use postgresql or mongodb)", addKind)
	}
	if addHost == "" && addURI == "" {
		return fmt.Errorf("either --host or --uri is required")
	}

	sc, err := initInstanceComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	inst := &domain.Instance{
		Name:                 addName,
		Kind:                 kind,
		Host:                 addHost,
		Port:                 addPort,
		User:                 addUser,
		URI:                  addURI,
		CredentialsEnvPrefix: addPrefix,
		Enabled:              !addDisabled,
	}
	if err := sc.Registry.Save(context.Background(), inst); err != nil {
		return err
	}

	fmt.Printf("Registered instance %s (%s)\n", inst.Name, inst.Kind)
	return nil
}

func runInstancesRemove(_ *cobra.Command, args []string) error {
	sc, err := initInstanceComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if err := sc.Registry.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed instance %s\n", args[0])
	return nil
}

func runInstancesCheck(_ *cobra.Command, args []string) error {
	sc, err := initInstanceComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx := context.Background()
	insts, err := sc.Registry.List(ctx)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		insts = filterByName(insts, args)
		if len(insts) == 0 {
			return fmt.Errorf("no registered instance matches %s", strings.Join(args, ", "))
		}
	}

	failed := 0
	for _, inst := range insts {
		if !inst.Enabled {
			fmt.Printf("%-20s  skipped (disabled)\n", inst.Name)
			continue
		}
		if err := sc.Prober.Check(ctx, &inst); err != nil {
			fmt.Printf("%-20s  FAIL  %v\n", inst.Name, err)
			failed++
			continue
		}
		fmt.Printf("%-20s  ok\n", inst.Name)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d probes failed\n", failed, len(insts))
		exit(sc, ExitUnreachable)
	}
	return nil
}

func filterByName(insts []domain.Instance, names []string) []domain.Instance {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := insts[:0]
	for _, inst := range insts {
		if want[inst.Name] {
			out = append(out, inst)
		}
	}
	return out
}

// redactURI strips embedded userinfo from a connection URI for display.
// URIs are stored without passwords, but listings never echo userinfo anyway.
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	u.User = url.User(u.User.Username())
	return u.String()
}

func initInstanceComponents() (*SharedComponents, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.Load(goutils.Env("SCRIPTBOX_CONFIG", instancesConfigPath))
	if err != nil {
		return nil, err
	}
	return initShared(cfg, logger)
}
