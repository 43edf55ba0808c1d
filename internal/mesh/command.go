package mesh

import (
	"fmt"
	"regexp"
	"strings"
)

// blockedCommands are destructive substrings denied case-insensitively.
var blockedCommands = []string{"rm -rf", "format", "del /f", "shutdown", "reboot"}

// allowedPatterns are the safe command shapes. A command must match one of
// these after clearing the blocklist.
var allowedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^sync\s`),
	regexp.MustCompile(`^status$`),
	regexp.MustCompile(`^backup`),
	regexp.MustCompile(`^update`),
	regexp.MustCompile(`^notify`),
	regexp.MustCompile(`^execute_safe`),
	regexp.MustCompile(`^query`),
	regexp.MustCompile(`^report`),
}

// CommandValidator is the two-stage gate for admin-issued remote commands.
// The blocklist runs first so an allowlisted-looking command that smuggles a
// blocked substring is still rejected.
type CommandValidator struct{}

func NewCommandValidator() *CommandValidator {
	return &CommandValidator{}
}

func (v *CommandValidator) Validate(command string) error {
	lowered := strings.ToLower(command)
	for _, blocked := range blockedCommands {
		if strings.Contains(lowered, blocked) {
			return rejectCommand(fmt.Sprintf("Blocked command: %s", blocked))
		}
	}
	for _, pattern := range allowedPatterns {
		if pattern.MatchString(command) {
			return nil
		}
	}
	return rejectCommand("Command not in allowlist")
}
