// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"github.com/googlecloudplatform/gcsasyncwriter/common"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// uploadFn receives the validated config, the bucket name and the sources to
// upload.
type uploadFn func(c *cfg.Config, bucketName string, sources []string) error

// NewRootCmd builds the command line: flags and the optional config file are
// merged into a cfg.Config, which is rationalized and validated before being
// handed to run.
func NewRootCmd(run uploadFn) (*cobra.Command, error) {
	var configFile string
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "gcsasyncwriter [flags] bucket file...",
		Short: "Upload files to a GCS bucket through buffered appendable uploads",
		Long: `gcsasyncwriter streams local files, or stdin when the file is "-", into
appendable objects of a Cloud Storage bucket. Data is buffered until the
service persists it, so uploads survive broken streams by resuming from the
last persisted offset.`,
		Version:      common.GetVersion(),
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				v.SetConfigType("yaml")
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("error while reading the config file: %w", err)
				}
			}

			var c cfg.Config
			err := v.Unmarshal(&c, viper.DecodeHook(cfg.DecodeHook()), func(decoderConfig *mapstructure.DecoderConfig) {
				decoderConfig.TagName = "yaml"
				decoderConfig.ErrorUnused = true
			})
			if err != nil {
				return fmt.Errorf("error while unmarshaling the config: %w", err)
			}

			if err = cfg.Rationalize(v, &c); err != nil {
				return fmt.Errorf("error while rationalizing the config: %w", err)
			}
			if err = cfg.ValidateConfig(&c); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			return run(&c, args[0], args[1:])
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "The yaml config file. Flags set on the command line take precedence over it.")
	if err := cfg.BindFlags(v, rootCmd.PersistentFlags()); err != nil {
		return nil, fmt.Errorf("error while binding flags: %w", err)
	}
	return rootCmd, nil
}

func Execute() {
	rootCmd, err := NewRootCmd(func(c *cfg.Config, bucketName string, sources []string) error {
		return runUpload(c, bucketName, sources, os.Stdin, os.Stdout)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err = rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
