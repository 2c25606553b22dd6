package orchestrator

import (
	"fmt"
	"strings"
)

// Environment selects a well-known orchestrator deployment.
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvDev        Environment = "dev"
	EnvStaging    Environment = "staging"
	EnvBeta       Environment = "beta"
	EnvProduction Environment = "production"
)

var environmentURLs = map[Environment]string{
	EnvLocal:      "http://localhost:50505",
	EnvDev:        "https://dev.orchestrator.nexus.xyz",
	EnvStaging:    "https://staging.orchestrator.nexus.xyz",
	EnvBeta:       "https://beta.orchestrator.nexus.xyz",
	EnvProduction: "https://orchestrator.nexus.xyz",
}

// ParseEnvironment accepts the environment names case-insensitively. The
// empty string means production.
func ParseEnvironment(s string) (Environment, error) {
	if s == "" {
		return EnvProduction, nil
	}
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := environmentURLs[env]; !ok {
		return "", fmt.Errorf("unknown environment %q", s)
	}
	return env, nil
}

// BaseURL returns the orchestrator root for the environment.
func (e Environment) BaseURL() string {
	if u, ok := environmentURLs[e]; ok {
		return u
	}
	return environmentURLs[EnvProduction]
}
