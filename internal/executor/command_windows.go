//go:build windows

package executor

func shutdownCommand() (string, []string) {
	return "shutdown", []string{"/s", "/t", "0"}
}
