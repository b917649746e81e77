//go:build !windows

package executor

func shutdownCommand() (string, []string) {
	return "shutdown", []string{"-h", "now"}
}
