package score

import (
	"fmt"
	"os"

	"cloudproof/internal/score/rule"

	"gopkg.in/yaml.v3"
)

// TableConfig is the declarative form of a scoring table.
//
// Example file:
//
//	ignored_prefixes: [ConsoleLogin, Describe, Get, List, Head]
//	services:
//	  EC2:
//	    RunInstances: 3
//	rules:
//	  - when: service == "SSM" && action.startsWith("Create")
//	    then: 1
type TableConfig struct {
	// IgnoredPrefixes: actions starting with any of these score 0.
	IgnoredPrefixes []string `yaml:"ignored_prefixes"`
	// Services: service → action → points.
	Services map[string]map[string]int `yaml:"services"`
	// Rules: optional CEL rules for pairs missing from Services.
	Rules []rule.Rule `yaml:"rules"`
}

// DefaultIgnoredPrefixes lists the read-only and session actions that never score.
func DefaultIgnoredPrefixes() []string {
	return []string{"ConsoleLogin", "Describe", "Get", "List", "Head"}
}

// DefaultTableConfig returns the built-in scoring table.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		IgnoredPrefixes: DefaultIgnoredPrefixes(),
		Services: map[string]map[string]int{
			"EC2": {
				"RunInstances":            3,
				"TerminateInstances":      2,
				"StopInstances":           1,
				"StartInstances":          1,
				"ModifyInstanceAttribute": 2,
			},
			"S3": {
				"CreateBucket":        2,
				"DeleteBucket":        2,
				"PutBucketPolicy":     2,
				"PutBucketVersioning": 1,
			},
			"IAM": {
				"CreateRole":       2,
				"CreateUser":       2,
				"AttachRolePolicy": 2,
				"CreatePolicy":     3,
			},
			"VPC": {
				"CreateVpc":                     3,
				"CreateSubnet":                  2,
				"CreateSecurityGroup":           2,
				"AuthorizeSecurityGroupIngress": 1,
			},
			"CloudFormation": {
				"CreateStack": 5,
				"UpdateStack": 4,
				"DeleteStack": 3,
			},
			"Lambda": {
				"CreateFunction":     3,
				"UpdateFunctionCode": 2,
			},
			"RDS": {
				"CreateDBInstance": 4,
				"ModifyDBInstance": 2,
			},
			"EKS": {
				"CreateCluster":   5,
				"CreateNodegroup": 4,
			},
		},
	}
}

// LoadTableConfig reads a YAML scoring file. An empty path yields DefaultTableConfig.
// Sections missing from the file fall back to their defaults.
func LoadTableConfig(path string) (TableConfig, error) {
	if path == "" {
		return DefaultTableConfig(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return TableConfig{}, fmt.Errorf("read scoring file: %w", err)
	}

	return ParseTableConfig(content)
}

// ParseTableConfig decodes a YAML scoring document.
func ParseTableConfig(content []byte) (TableConfig, error) {
	var cfg TableConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return TableConfig{}, fmt.Errorf("parse scoring file: %w", err)
	}

	defaults := DefaultTableConfig()
	if cfg.IgnoredPrefixes == nil {
		cfg.IgnoredPrefixes = defaults.IgnoredPrefixes
	}
	if cfg.Services == nil {
		cfg.Services = defaults.Services
	}

	return cfg, nil
}
