package trace

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Hint kinds. Reasons cargo reports that are not classified keep cargo's
// own name as their kind.
const (
	HintEnvChanged        = "EnvVarChanged"
	HintFileChanged       = "FileChanged"
	HintFileMissing       = "FileMissing"
	HintDependencyRebuilt = "StaleDependency"
	HintDependencyInfo    = "UnitDependencyInfoChanged"
	HintFeatures          = "FeaturesChanged"
	HintDeclaredFeatures  = "DeclaredFeaturesChanged"
	HintRustflags         = "RustflagsChanged"
	HintTargetConfig      = "TargetConfigurationChanged"
	HintProfileConfig     = "ProfileConfigurationChanged"
	HintRustc             = "RustcChanged"
	HintConfigSettings    = "ConfigSettingsChanged"
	HintCompileKind       = "CompileKindChanged"
	HintMetadata          = "MetadataChanged"
	HintSourcePath        = "PathToSourceChanged"
	HintForced            = "Forced"
	HintFreshBuild        = "FreshBuild"
	HintUnknown           = "Unknown"
)

var (
	envVarChangedRe = regexp.MustCompile(`^EnvVarChanged \{ name: "([^"]*)", old_value: (None|Some\("(.*?)"\)), new_value: (None|Some\("(.*?)"\)) \}`)
	changedEnvRe    = regexp.MustCompile(`^FsStatusOutdated\(StaleItem\(ChangedEnv \{ var: "([^"]*)", previous: (None|Some\("(.*?)"\)), current: (None|Some\("(.*?)"\)) \}`)
	depInfoRe       = regexp.MustCompile(`^UnitDependencyInfoChanged \{ old_name: "([^"]*)", old_fingerprint: (\d+), new_name: "([^"]*)", new_fingerprint: (\d+) \}`)
	staleFileRe     = regexp.MustCompile(`^FsStatusOutdated\(StaleItem\(ChangedFile \{.*stale: "([^"]*)"`)
	missingFileRe   = regexp.MustCompile(`^FsStatusOutdated\(StaleItem\(MissingFile(?:\(| \{ path: )"([^"]*)"`)
	staleDepRe      = regexp.MustCompile(`^FsStatusOutdated\((?:StaleDepFingerprint|StaleDependency) \{ name: "([^"]*)"`)
	featuresRe      = regexp.MustCompile(`^(FeaturesChanged|DeclaredFeaturesChanged) \{ old: "((?:[^"\\]|\\.)*)", new: "((?:[^"\\]|\\.)*)" \}`)
	rustflagsRe     = regexp.MustCompile(`^RustflagsChanged \{ old: (\[.*?\]), new: (\[.*\]) \}`)
	reasonNameRe    = regexp.MustCompile(`^([A-Za-z]+)`)

	dirtyFileRe    = regexp.MustCompile("^the file `([^`]*)` has changed")
	dirtyMissingRe = regexp.MustCompile("^the file `([^`]*)` is missing")
	dirtyDepRe     = regexp.MustCompile("^the dependency `?([^`\\s]+)`? was rebuilt")
	dirtyEnvRe     = regexp.MustCompile("^the (?:env|environment) variable `?([^`\\s]+)`? changed")
)

var plainReasons = map[string]string{
	HintTargetConfig:   "target configuration changed",
	HintProfileConfig:  "profile configuration changed",
	HintRustc:          "compiler version changed",
	HintConfigSettings: "config settings changed",
	HintCompileKind:    "compile kind changed",
	HintMetadata:       "package metadata changed",
	HintSourcePath:     "path to the source changed",
	HintForced:         "forced",
	HintFreshBuild:     "fresh build",
}

// cargo's verbose "Dirty" messages that carry no subject
var dirtyMessages = []struct {
	prefix string
	kind   string
}{
	{"the list of declared features changed", HintDeclaredFeatures},
	{"the list of features changed", HintFeatures},
	{"the rustflags changed", HintRustflags},
	{"the target configuration changed", HintTargetConfig},
	{"the profile configuration changed", HintProfileConfig},
	{"the toolchain changed", HintRustc},
	{"the config settings changed", HintConfigSettings},
	{"the rustc compile kind changed", HintCompileKind},
	{"the metadata changed", HintMetadata},
	{"the path to the source changed", HintSourcePath},
	{"forced", HintForced},
	{"fresh build", HintFreshBuild},
}

// parseLogReason reads one of cargo's Debug-printed DirtyReason values from
// its fingerprint log. Unrecognized or malformed reasons keep their raw text.
func parseLogReason(raw string) Hint {
	if m := envVarChangedRe.FindStringSubmatch(raw); m != nil {
		return envHint(m[1], optionValue(m[2], m[3]), optionValue(m[4], m[5]))
	}
	if m := changedEnvRe.FindStringSubmatch(raw); m != nil {
		return envHint(m[1], optionValue(m[2], m[3]), optionValue(m[4], m[5]))
	}
	if m := depInfoRe.FindStringSubmatch(raw); m != nil {
		return Hint{
			Kind:    HintDependencyInfo,
			Subject: m[3],
			Old:     Value{Text: m[2], Set: true},
			New:     Value{Text: m[4], Set: true},
			Logged:  true,
			Summary: fmt.Sprintf("dependency %s fingerprint %s -> %s", m[1], m[2], m[4]),
		}
	}
	if m := staleFileRe.FindStringSubmatch(raw); m != nil {
		return Hint{Kind: HintFileChanged, Subject: m[1], Summary: fmt.Sprintf("file %s changed", m[1])}
	}
	if m := missingFileRe.FindStringSubmatch(raw); m != nil {
		return Hint{Kind: HintFileMissing, Subject: m[1], Summary: fmt.Sprintf("file %s is missing", m[1])}
	}
	if m := staleDepRe.FindStringSubmatch(raw); m != nil {
		return Hint{Kind: HintDependencyRebuilt, Subject: m[1], Summary: fmt.Sprintf("dependency %s is stale", m[1])}
	}
	if m := featuresRe.FindStringSubmatch(raw); m != nil {
		old, cur := unescape(m[2]), unescape(m[3])
		label := "features"
		if m[1] == HintDeclaredFeatures {
			label = "declared features"
		}
		return Hint{
			Kind:    m[1],
			Old:     Value{Text: old, Set: true},
			New:     Value{Text: cur, Set: true},
			Logged:  true,
			Summary: fmt.Sprintf("%s %q -> %q", label, old, cur),
		}
	}
	if m := rustflagsRe.FindStringSubmatch(raw); m != nil {
		return Hint{
			Kind:    HintRustflags,
			Old:     Value{Text: m[1], Set: true},
			New:     Value{Text: m[2], Set: true},
			Logged:  true,
			Summary: fmt.Sprintf("RUSTFLAGS %s -> %s", m[1], m[2]),
		}
	}

	name := HintUnknown
	if m := reasonNameRe.FindStringSubmatch(raw); m != nil {
		name = m[1]
	}
	if summary, ok := plainReasons[name]; ok {
		return Hint{Kind: name, Summary: summary}
	}
	return Hint{Kind: name, Summary: raw}
}

// parseDirtyMessage classifies the message of a verbose
// "Dirty pkg v1.0.0 (path): message" line.
func parseDirtyMessage(msg string) Hint {
	if m := dirtyFileRe.FindStringSubmatch(msg); m != nil {
		return Hint{Kind: HintFileChanged, Subject: m[1], Summary: msg}
	}
	if m := dirtyMissingRe.FindStringSubmatch(msg); m != nil {
		return Hint{Kind: HintFileMissing, Subject: m[1], Summary: msg}
	}
	if m := dirtyDepRe.FindStringSubmatch(msg); m != nil {
		return Hint{Kind: HintDependencyRebuilt, Subject: m[1], Summary: msg}
	}
	if m := dirtyEnvRe.FindStringSubmatch(msg); m != nil {
		return Hint{Kind: HintEnvChanged, Subject: m[1], Summary: msg}
	}
	for _, d := range dirtyMessages {
		if strings.HasPrefix(msg, d.prefix) {
			return Hint{Kind: d.kind, Summary: msg}
		}
	}
	return Hint{Kind: HintUnknown, Summary: msg}
}

func envHint(name string, old, cur Value) Hint {
	return Hint{
		Kind:    HintEnvChanged,
		Subject: name,
		Old:     old,
		New:     cur,
		Logged:  true,
		Summary: fmt.Sprintf("env %s: %s -> %s", name, old, cur),
	}
}

func optionValue(option, inner string) Value {
	if option == "None" {
		return Value{}
	}
	return Value{Text: unescape(inner), Set: true}
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if out, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return out
	}
	return s
}

// List decodes a Debug-printed list of strings such as ["std", "derive"].
func List(text string) []string {
	var out []string
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		if len(out) == 0 {
			return nil
		}
		return out
	}
	inner := strings.TrimSpace(text)
	inner = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(inner, "["), "]"))
	if inner == "" {
		return nil
	}
	for _, part := range strings.Split(inner, ",") {
		out = append(out, strings.Trim(strings.TrimSpace(part), `"`))
	}
	return out
}
