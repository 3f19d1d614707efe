// Package java locates and provisions Java runtimes.
package java

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

var versionPattern = regexp.MustCompile(`(?:java|openjdk) version "([^"]+)"`)

// Runtime is a usable Java installation.
type Runtime struct {
	Path    string
	Version string
	Major   int
}

// ErrNoJava is returned when no runtime can be found on the system.
var ErrNoJava = errors.New("no java runtime found")

// Detect finds a Java runtime, preferring JAVA_HOME over PATH.
func Detect() (*Runtime, error) {
	if home := os.Getenv("JAVA_HOME"); home != "" {
		candidate := filepath.Join(home, "bin", executableName())
		if rt, err := probe(candidate); err == nil {
			return rt, nil
		}
	}

	if path, err := exec.LookPath("java"); err == nil {
		if rt, err := probe(path); err == nil {
			return rt, nil
		}
	}

	return nil, ErrNoJava
}

// Validate reports whether path is an executable that answers -version.
func Validate(path string) bool {
	_, err := probe(path)
	return err == nil
}

func probe(path string) (*Runtime, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	// java prints its version banner on stderr.
	out, err := exec.Command(path, "-version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("running %s -version: %w", path, err)
	}

	match := versionPattern.FindSubmatch(out)
	if match == nil {
		return nil, fmt.Errorf("unrecognized version output from %s", path)
	}

	version := string(match[1])
	return &Runtime{Path: path, Version: version, Major: majorVersion(version)}, nil
}

// majorVersion extracts the feature release number: "1.8.0_392" is 8,
// "17.0.2" is 17.
func majorVersion(version string) int {
	parts := strings.FieldsFunc(version, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return 0
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if first == 1 && len(parts) > 1 {
		if second, err := strconv.Atoi(parts[1]); err == nil {
			return second
		}
	}
	return first
}

func executableName() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}
