package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dbsmedya/cargowhy/internal/unit"
)

// Cargo fingerprint layouts understood by Decode. They differ in the shape
// of dependency entries.
const (
	SchemaLegacy  = 1 // deps as [pkg_id, name, fingerprint]
	SchemaCurrent = 2 // deps as [pkg_id, name, public, fingerprint]
)

// fields every cargo fingerprint record carries
var requiredFields = []string{"rustc", "features", "target", "profile", "path", "deps", "local"}

type cargoRecord struct {
	Rustc            uint64                       `json:"rustc"`
	Features         string                       `json:"features"`
	DeclaredFeatures *string                      `json:"declared_features"`
	Target           uint64                       `json:"target"`
	Profile          uint64                       `json:"profile"`
	Path             uint64                       `json:"path"`
	Deps             []json.RawMessage            `json:"deps"`
	Local            []map[string]json.RawMessage `json:"local"`
	Rustflags        []string                     `json:"rustflags"`
	Metadata         *uint64                      `json:"metadata"`
	Config           *uint64                      `json:"config"`
	CompileKind      *uint64                      `json:"compile_kind"`
}

type checkDepInfo struct {
	DepInfo string `json:"dep_info"`
}

type rerunIfChanged struct {
	Output string   `json:"output"`
	Paths  []string `json:"paths"`
}

type rerunIfEnvChanged struct {
	Var string  `json:"var"`
	Val *string `json:"val"`
}

// Decode parses a cargo fingerprint record of unit id. It detects the
// layout and returns a *RecordError on failure.
func Decode(data []byte, id unit.ID) (*Record, error) {
	return decode(data, id, "", "")
}

func decode(data []byte, id unit.ID, dir, hash string) (*Record, error) {
	rec, err := decodeCargo(data, id, dir, hash)
	if err != nil {
		var recErr *RecordError
		if errors.As(err, &recErr) {
			recErr.Unit = id
			return nil, recErr
		}
		return nil, &RecordError{Unit: id, Kind: ErrRecordCorrupt, Cause: err}
	}
	return rec, nil
}

func decodeCargo(data []byte, id unit.ID, dir, hash string) (*Record, error) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return nil, err
	}
	for _, name := range requiredFields {
		if _, ok := present[name]; !ok {
			return nil, unsupported("no %q field", name)
		}
	}

	var raw cargoRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	schema, deps, err := decodeDeps(raw.Deps)
	if err != nil {
		return nil, err
	}
	env, local, err := decodeLocal(raw.Local)
	if err != nil {
		return nil, err
	}
	features, err := decodeFeatures(raw.Features)
	if err != nil {
		return nil, err
	}

	settings := []Setting{
		{Name: SettingRustc, Value: formatUint(raw.Rustc)},
		{Name: SettingTarget, Value: formatUint(raw.Target)},
		{Name: SettingProfile, Value: formatUint(raw.Profile)},
		{Name: SettingPath, Value: formatUint(raw.Path)},
	}
	optional := []struct {
		name  string
		value *uint64
	}{
		{SettingMetadata, raw.Metadata},
		{SettingConfig, raw.Config},
		{SettingCompileKind, raw.CompileKind},
	}
	for _, o := range optional {
		if o.value != nil {
			settings = append(settings, Setting{Name: o.name, Value: formatUint(*o.value)})
		}
	}
	if raw.DeclaredFeatures != nil {
		settings = append(settings, Setting{Name: SettingDeclaredFeatures, Value: *raw.DeclaredFeatures})
	}
	settings = append(settings, local...)

	return NewRecord(Fields{
		SchemaVersion: schema,
		Unit:          id,
		Profile:       id.Profile,
		Dir:           dir,
		Hash:          hash,
		Env:           env,
		Flags:         raw.Rustflags,
		Settings:      settings,
		Features:      features,
		Deps:          deps,
	}), nil
}

func decodeDeps(raw []json.RawMessage) (int, []DepEntry, error) {
	schema := 0
	deps := make([]DepEntry, 0, len(raw))
	for i, entry := range raw {
		var tuple []json.RawMessage
		if err := json.Unmarshal(entry, &tuple); err != nil {
			return 0, nil, fmt.Errorf("dependency %d: %w", i, err)
		}

		var layout int
		switch len(tuple) {
		case 3:
			layout = SchemaLegacy
		case 4:
			layout = SchemaCurrent
		default:
			return 0, nil, unsupported("dependency %d has %d fields", i, len(tuple))
		}
		if schema != 0 && layout != schema {
			return 0, nil, fmt.Errorf("dependency %d: mixed dependency layouts", i)
		}
		schema = layout

		var name string
		if err := json.Unmarshal(tuple[1], &name); err != nil || name == "" {
			return 0, nil, fmt.Errorf("dependency %d: invalid name %s", i, tuple[1])
		}
		var fp uint64
		if err := json.Unmarshal(tuple[len(tuple)-1], &fp); err != nil {
			return 0, nil, fmt.Errorf("dependency %s: invalid fingerprint: %w", name, err)
		}
		deps = append(deps, DepEntry{Name: name, Hash: FormatHash(fp)})
	}
	if schema == 0 {
		schema = SchemaCurrent
	}
	return schema, deps, nil
}

func decodeLocal(raw []map[string]json.RawMessage) ([]EnvVar, []Setting, error) {
	var env []EnvVar
	var settings []Setting
	for i, entry := range raw {
		if len(entry) != 1 {
			return nil, nil, fmt.Errorf("local entry %d has %d variants", i, len(entry))
		}
		for variant, body := range entry {
			switch variant {
			case "CheckDepInfo":
				var v checkDepInfo
				if err := json.Unmarshal(body, &v); err != nil {
					return nil, nil, fmt.Errorf("local entry %d: %w", i, err)
				}
				settings = append(settings, Setting{Name: SettingDepInfo, Value: v.DepInfo})
			case "Precalculated":
				var v string
				if err := json.Unmarshal(body, &v); err != nil {
					return nil, nil, fmt.Errorf("local entry %d: %w", i, err)
				}
				settings = append(settings, Setting{Name: SettingPrecalculated, Value: v})
			case "RerunIfChanged":
				var v rerunIfChanged
				if err := json.Unmarshal(body, &v); err != nil {
					return nil, nil, fmt.Errorf("local entry %d: %w", i, err)
				}
				settings = append(settings, Setting{Name: SettingRerunIfChanged, Value: strings.Join(v.Paths, ", ")})
			case "RerunIfEnvChanged":
				var v rerunIfEnvChanged
				if err := json.Unmarshal(body, &v); err != nil {
					return nil, nil, fmt.Errorf("local entry %d: %w", i, err)
				}
				if v.Var == "" {
					return nil, nil, fmt.Errorf("local entry %d: env entry with empty name", i)
				}
				e := EnvVar{Name: v.Var}
				if v.Val != nil {
					e.Value, e.Set = *v.Val, true
				}
				env = append(env, e)
			default:
				return nil, nil, unsupported("local entry %d: unknown kind %q", i, variant)
			}
		}
	}
	return env, settings, nil
}

// decodeFeatures reads cargo's Debug-printed feature list, e.g. ["std"].
func decodeFeatures(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var features []string
	if err := json.Unmarshal([]byte(text), &features); err != nil {
		return nil, fmt.Errorf("features %q: %w", text, err)
	}
	return features, nil
}

func unsupported(format string, args ...any) error {
	return &RecordError{Kind: ErrSchemaUnsupported, Cause: fmt.Errorf(format, args...)}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
