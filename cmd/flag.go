package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag pairs a viper config key with the CLI flag name that binds to it.
type Flag struct {
	Config string
	CLI    string
}

type StringFlag struct {
	f *Flag
}

type IntFlag struct {
	f *Flag
}

type BoolFlag struct {
	f *Flag
}

type DurationFlag struct {
	f *Flag
}

type StringSliceFlag struct {
	f *Flag
}

type StringPFlag struct {
	f  *Flag
	sh string
}

func (f *StringFlag) Bind(cmd *cobra.Command, value, usage string) {
	cmd.PersistentFlags().String(f.f.CLI, value, usage)
	viper.BindPFlag(f.f.Config, cmd.PersistentFlags().Lookup(f.f.CLI))
}

func (f *Flag) String() *StringFlag {
	return &StringFlag{f: f}
}

func (f *IntFlag) Bind(cmd *cobra.Command, value int, usage string) {
	cmd.PersistentFlags().Int(f.f.CLI, value, usage)
	viper.BindPFlag(f.f.Config, cmd.PersistentFlags().Lookup(f.f.CLI))
}

func (f *Flag) Int() *IntFlag {
	return &IntFlag{f: f}
}

func (f *BoolFlag) Bind(cmd *cobra.Command, value bool, usage string) {
	cmd.PersistentFlags().Bool(f.f.CLI, value, usage)
	viper.BindPFlag(f.f.Config, cmd.PersistentFlags().Lookup(f.f.CLI))
}

func (f *Flag) Bool() *BoolFlag {
	return &BoolFlag{f: f}
}

func (f *DurationFlag) Bind(cmd *cobra.Command, value time.Duration, usage string) {
	cmd.PersistentFlags().Duration(f.f.CLI, value, usage)
	viper.BindPFlag(f.f.Config, cmd.PersistentFlags().Lookup(f.f.CLI))
}

func (f *Flag) Duration() *DurationFlag {
	return &DurationFlag{f: f}
}

func (f *StringSliceFlag) Bind(cmd *cobra.Command, value []string, usage string) {
	cmd.PersistentFlags().StringSlice(f.f.CLI, value, usage)
	viper.BindPFlag(f.f.Config, cmd.PersistentFlags().Lookup(f.f.CLI))
}

func (f *Flag) StringSlice() *StringSliceFlag {
	return &StringSliceFlag{f: f}
}

func (f *StringPFlag) Bind(cmd *cobra.Command, value, usage string) {
	cmd.PersistentFlags().StringP(f.f.CLI, f.sh, value, usage)
	viper.BindPFlag(f.f.Config, cmd.PersistentFlags().Lookup(f.f.CLI))
}

func (f *Flag) StringP(shorthand string) *StringPFlag {
	return &StringPFlag{f: f, sh: shorthand}
}

func NewFlag(config, cli string) *Flag {
	return &Flag{
		Config: config,
		CLI:    cli,
	}
}
