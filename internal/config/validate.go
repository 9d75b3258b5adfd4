// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. validator caches struct
// metadata, so one instance is reused for every reload.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and cross-field rules. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describeValidation(err))
	}

	if err := c.validateTransfer(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.validateQuiesce(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.validateControl(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if c.Transfer.Port == 0 {
		return fmt.Errorf("transfer.port must be set")
	}
	if c.Transfer.Protocol == ProtocolSFTP && c.Transfer.Password == "" && c.Transfer.PrivateKeyPath == "" {
		return fmt.Errorf("sftp requires transfer.password or transfer.private_key_path")
	}
	return nil
}

func (c *Config) validateQuiesce() error {
	if c.Quiesce.Strategy != StrategySave {
		return nil
	}
	if c.Quiesce.SaveAllCommand == "" {
		return fmt.Errorf("quiesce.save_all_command is required for the save strategy")
	}
	if c.Quiesce.SavedPattern == "" {
		return fmt.Errorf("quiesce.saved_pattern is required for the save strategy")
	}
	if _, err := regexp.Compile(c.Quiesce.SavedPattern); err != nil {
		return fmt.Errorf("quiesce.saved_pattern: %w", err)
	}
	return nil
}

func (c *Config) validateControl() error {
	seen := make(map[string]string, len(c.Control.Tokens))
	for _, t := range c.Control.Tokens {
		if other, dup := seen[t.Token]; dup {
			return fmt.Errorf("control token %q duplicates token %q", t.Name, other)
		}
		seen[t.Token] = t.Name
	}
	return nil
}

// describeValidation flattens validator errors into one readable line.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
