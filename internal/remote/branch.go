package remote

import (
	"fmt"
	"strings"
)

// ValidateBranch rejects names git would refuse as a branch and names
// that could be read as a command-line option.
func ValidateBranch(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("branch name is empty")
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("branch name %q starts with '-'", name)
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return fmt.Errorf("branch name %q starts or ends with '/'", name)
	case strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock"):
		return fmt.Errorf("branch name %q has an invalid suffix", name)
	case strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{"):
		return fmt.Errorf("branch name %q contains an invalid sequence", name)
	case name == "@":
		return fmt.Errorf("branch name %q is reserved", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Errorf("branch name %q contains %q", name, r)
		}
	}
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return fmt.Errorf("branch name %q has a component starting with '.'", name)
		}
	}
	return nil
}
