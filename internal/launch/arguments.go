package launch

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/quasar/cleanlaunch/internal/core"
)

const (
	launcherBrand   = "cleanlaunch"
	launcherName    = "CleanLaunch"
	launcherVersion = "0.1.0"
)

// Fixed garbage collector tuning applied to every launch, ahead of any
// version-supplied JVM template entries.
var gcFlags = []string{
	"-XX:+UnlockExperimentalVMOptions",
	"-XX:+UseG1GC",
	"-XX:G1NewSizePercent=20",
	"-XX:G1ReservePercent=20",
	"-XX:MaxGCPauseMillis=50",
	"-XX:G1HeapRegionSize=32M",
}

// ArgumentContext carries everything the argument builder needs. It is a
// pure input: building arguments has no side effects.
type ArgumentContext struct {
	Version    *core.VersionDetails
	Instance   core.InstanceConfig
	Account    *core.Account
	Classpath  []string
	NativesDir string
	AssetsDir  string
}

// currentOSTag maps GOOS onto the three-way platform tag used by rules.
func currentOSTag() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "osx"
	default:
		return "linux"
	}
}

func matchesOS(os *core.OSRule, osTag, arch string) bool {
	if os == nil {
		return true
	}
	if os.Name != "" && os.Name != osTag {
		return false
	}
	if os.Arch != "" && !strings.Contains(arch, os.Arch) {
		return false
	}
	return true
}

// EvaluateRules decides whether a rule-gated entry applies on the given
// platform. An empty rule list always applies. Otherwise a matching
// disallow vetoes the entry outright, and inclusion requires at least one
// matching allow. This one algorithm gates argument templates, library
// selection and native classifiers alike.
func EvaluateRules(rules []core.Rule, osTag, arch string) bool {
	if len(rules) == 0 {
		return true
	}
	allowed := false
	for _, rule := range rules {
		if !matchesOS(rule.OS, osTag, arch) {
			continue
		}
		if rule.Action == core.RuleDisallow {
			return false
		}
		if rule.Action == core.RuleAllow {
			allowed = true
		}
	}
	return allowed
}

func rulesApply(rules []core.Rule) bool {
	return EvaluateRules(rules, currentOSTag(), runtime.GOARCH)
}

// substitutions returns the full placeholder map. The tokens are mutually
// exclusive literals, so substitution order cannot matter.
func substitutions(ctx ArgumentContext) map[string]string {
	return map[string]string{
		"${auth_player_name}":  ctx.Account.Profile.Name,
		"${auth_uuid}":         ctx.Account.UUID,
		"${auth_access_token}": ctx.Account.AccessToken,
		"${auth_xuid}":         ctx.Account.UUID,
		"${user_type}":         "msa",
		"${version_name}":      ctx.Version.ID,
		"${game_directory}":    ctx.Instance.GameDir,
		"${assets_root}":       ctx.AssetsDir,
		"${assets_index_name}": ctx.Version.AssetIndex.ID,
		"${clientid}":          ctx.Account.UUID,
		"${resolution_width}":  strconv.Itoa(ctx.Instance.Resolution.Width),
		"${resolution_height}": strconv.Itoa(ctx.Instance.Resolution.Height),
		"${launcher_name}":     launcherName,
		"${launcher_version}":  launcherVersion,
	}
}

func substitute(value string, repl map[string]string) string {
	for token, v := range repl {
		value = strings.ReplaceAll(value, token, v)
	}
	return value
}

// BuildJVMArguments produces the JVM half of the invocation, in fixed
// order: heap bounds, GC tuning, rule-evaluated template entries, native
// library path, brand properties, classpath, main class.
func BuildJVMArguments(ctx ArgumentContext) []string {
	args := []string{
		fmt.Sprintf("-Xms%dM", ctx.Instance.MinRAM),
		fmt.Sprintf("-Xmx%dM", ctx.Instance.MaxRAM),
	}
	args = append(args, gcFlags...)

	for _, entry := range ctx.Version.Arguments.JVM {
		if !rulesApply(entry.Rules) {
			continue
		}
		args = append(args, entry.Values...)
	}

	args = append(args,
		"-Djava.library.path="+ctx.NativesDir,
		"-Dminecraft.launcher.brand="+launcherBrand,
		"-Dminecraft.launcher.version="+launcherVersion,
		"-cp", strings.Join(ctx.Classpath, string(filepath.ListSeparator)),
		ctx.Version.MainClass,
	)
	return args
}

// BuildGameArguments resolves the game-argument templates with all
// placeholders substituted. Fullscreen instances get a trailing
// "--fullscreen true" regardless of the version template.
func BuildGameArguments(ctx ArgumentContext) []string {
	repl := substitutions(ctx)

	var args []string
	for _, entry := range ctx.Version.Arguments.Game {
		if !rulesApply(entry.Rules) {
			continue
		}
		for _, value := range entry.Values {
			args = append(args, substitute(value, repl))
		}
	}

	if ctx.Instance.Resolution.Fullscreen {
		args = append(args, "--fullscreen", "true")
	}
	return args
}

// BuildArguments concatenates JVM and game arguments in invocation order.
func BuildArguments(ctx ArgumentContext) []string {
	return append(BuildJVMArguments(ctx), BuildGameArguments(ctx)...)
}
