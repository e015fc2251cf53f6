// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Confirm asks a yes/no question on out and reads the answer from in.
// An empty answer counts as yes.
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [Y/n]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true
	}
	return false
}

func writeFile(path string, v any, perm os.FileMode) error {
	buf, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(buf); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Dump writes opt as YAML to path. Without overwrite an existing file is
// only replaced after confirmation on stdin.
func Dump(opt any, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			if !Confirm(os.Stdin, os.Stdout, "configuration "+path+" already exists, overwrite?") {
				log.Infoln("config: abort")
				return nil
			}
		}
	}
	log.Infoln("config: writing default configuration to", path)
	return writeFile(path, opt, 0o600)
}

// InitCfg returns the RunE of an init command: it parses the current
// configuration and prints it or writes it out as a template.
func InitCfg[T Options](newDesc func() *Desc[T]) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		printFlag, _ := cmd.Flags().GetBool("print")
		output, _ := cmd.Flags().GetString("output")
		overwrite, _ := cmd.Flags().GetBool("yes")

		desc := newDesc()
		if err := desc.Parse(cmd); err != nil {
			return err
		}
		if printFlag {
			buf, err := yaml.Marshal(desc.Opt)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(buf))
			return nil
		}
		return Dump(desc.Opt, output, overwrite)
	}
}
