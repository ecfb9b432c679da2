// Package cli implements the aether command: running, resuming and
// inspecting Aether models from the command line.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"aether-ca/internal/grid"
	"aether-ca/internal/number"
)

// Version is the version of the aether tools.
const Version = "0.3.0"

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to aether.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the location of a TOML configuration file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log-level",
			usage: `
              log-level is one of panic, fatal, error, warn, info, debug or trace.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "dimension",
			usage: `
              dimension of the lattice, between 1 and 4.`,
			shorthand:  "d",
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "seed",
			usage: `
              seed is the value placed at the origin. Rational models accept
              fractions such as 1/3.`,
			shorthand:  "s",
			defaultVal: "1000",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "numeric",
			usage: fmt.Sprintf(`
              numeric selects the cell value type: %s.`, joinKinds()),
			defaultVal: string(number.KindInt64),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "storage",
			usage: fmt.Sprintf(`
              storage selects where grid generations live: %s. The flat
              store needs a fixed-width numeric type.`, joinStrategies()),
			defaultVal: string(grid.Memory),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "block-cells",
			usage: `
              block-cells bounds the cells held by one block of the paged store.`,
			defaultVal: grid.DefaultBlockCells,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "compliance",
			usage: `
              compliance records whether every cell toppled exactly when its
              coordinate parity made it due. It is kept in backups and shown
              by inspect --plane.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "dir",
			usage: `
              dir is the folder under which disk-backed stores keep their
              working files.`,
			defaultVal: "data",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "steps",
			usage: `
              steps is the number of steps to run. Zero runs until a step
              changes nothing.`,
			shorthand:  "n",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "backup-every",
			usage: `
              backup-every is the wall-clock period between backups. Zero only
              backs up at the end of the run.`,
			defaultVal: time.Duration(0),
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "backup-dir",
			usage: `
              backup-dir is the folder backups are written to.`,
			defaultVal: "backups",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "ledger",
			usage: `
              ledger is an SQLite database recording every step and backup.
              Empty disables it.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "restore",
			usage: `
              restore is the backup folder to read.`,
			shorthand:  "r",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{resumeCmd.Flags(), inspectCmd.Flags()},
		},
		{
			name: "json",
			usage: `
              json prints the report as JSON.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{inspectCmd.Flags()},
		},
		{
			name: "plane",
			usage: `
              plane also prints the values of the first two axes of the
              canonical domain.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{inspectCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("AETHER")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case time.Duration:
				set.DurationP(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(resumeCmd)
	Root.AddCommand(inspectCmd)
}

func joinKinds() string {
	var s []string
	for _, k := range number.Kinds() {
		s = append(s, string(k))
	}
	return strings.Join(s, ", ")
}

func joinStrategies() string {
	var s []string
	for _, st := range grid.Strategies() {
		s = append(s, string(st))
	}
	return strings.Join(s, ", ")
}

// bindFlags binds the flags of the command being run, so options shared by
// several commands read from the one that was invoked.
func bindFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if berr := Cfg.BindPFlag(f.Name, f); berr != nil && err == nil {
			err = berr
		}
	})
	return err
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("aether: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Log is the logger used by the commands.
var Log = logrus.New()

func setLogging(cmd *cobra.Command) error {
	level, err := logrus.ParseLevel(Cfg.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("aether: %v", err)
	}
	Log.SetLevel(level)
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	Log.SetOutput(cmd.ErrOrStderr())
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "aether",
	Short: "Simulate the Aether cellular automaton.",
	Long: `Aether is an integer toppling automaton on the 1 to 4 dimensional lattice,
started from a single value at the origin. Use the subcommands below to run,
resume and inspect models.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'AETHER_var' where 'var' is
the name of the variable to be set, with dashes replaced by underscores.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := bindFlags(cmd); err != nil {
			return err
		}
		if err := setConfig(); err != nil {
			return err
		}
		return setLogging(cmd)
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of aether.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aether v%s\n", Version)
	},
	DisableAutoGenTag: true,
}
