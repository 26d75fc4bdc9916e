// Package manifest resolves Mojang's layered, rule-conditioned version
// JSON (plus Fabric/Forge overlays) into a flat ResolvedProfile the
// downloader and launcher assembler can consume without re-interpreting
// inheritance or OS rules.
package manifest

import "encoding/json"

// VersionEntry is one row of the vanilla version manifest list.
type VersionEntry struct {
	ID          string `json:"id"`
	Type        string `json:"type"` // release, snapshot, old_beta, old_alpha
	URL         string `json:"url"`
	ReleaseTime string `json:"releaseTime"`
}

// VersionManifestIndex is Mojang's top-level version_manifest.json.
type VersionManifestIndex struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []VersionEntry `json:"versions"`
}

// ByID returns the entry with the given id, if present.
func (idx *VersionManifestIndex) ByID(id string) (VersionEntry, bool) {
	for _, v := range idx.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return VersionEntry{}, false
}

// RuleOS is the os{} clause of a Rule.
type RuleOS struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"` // regex against runtime version string
	Arch    string `json:"arch,omitempty"`
}

// Rule is one allow/disallow clause gated by host OS/arch and features.
type Rule struct {
	Action   string          `json:"action"` // "allow" or "disallow"
	OS       RuleOS          `json:"os,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
}

// ArtifactDownload is one concrete download entry (artifact or classifier).
type ArtifactDownload struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

// Library is a raw library entry as published upstream.
type Library struct {
	Name      string `json:"name"` // group:artifact:version[:classifier]
	Downloads struct {
		Artifact    *ArtifactDownload           `json:"artifact,omitempty"`
		Classifiers map[string]ArtifactDownload `json:"classifiers,omitempty"`
	} `json:"downloads"`
	Rules   []Rule            `json:"rules,omitempty"`
	Natives map[string]string `json:"natives,omitempty"` // os -> classifier, with ${arch}
	URL     string            `json:"url,omitempty"`     // Forge/legacy: base maven repo for this library
	ExtractRules struct {
		Exclude []string `json:"exclude,omitempty"`
	} `json:"extract,omitempty"`
}

// RawArgToken is one entry of an arguments.{game,jvm} array: either a bare
// JSON string or an object with rules + value(s).
type RawArgToken struct {
	Literal string // set when the entry was a bare JSON string
	Rules   []Rule
	Values  []string // object form's "value", normalized to a slice
}

func (t *RawArgToken) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Literal = s
		return nil
	}

	var obj struct {
		Rules []Rule          `json:"rules"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Rules = obj.Rules

	var single string
	if err := json.Unmarshal(obj.Value, &single); err == nil {
		t.Values = []string{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(obj.Value, &multi); err != nil {
		return err
	}
	t.Values = multi
	return nil
}

// AssetIndexDescriptor is the assetIndex block of a version descriptor.
type AssetIndexDescriptor struct {
	ID        string `json:"id"`
	SHA1      string `json:"sha1"`
	Size      int64  `json:"size"`
	TotalSize int64  `json:"totalSize"`
	URL       string `json:"url"`
}

// JavaVersion is the javaVersion block newer descriptors carry directly.
type JavaVersion struct {
	Component    string `json:"component"`
	MajorVersion int    `json:"majorVersion"`
}

// LoggingClient is the logging.client block: an argument template plus
// the logging config file reference.
type LoggingClient struct {
	Argument string `json:"argument"`
	File     struct {
		ID   string `json:"id"`
		SHA1 string `json:"sha1"`
		Size int64  `json:"size"`
		URL  string `json:"url"`
	} `json:"file"`
	Type string `json:"type"`
}

// VersionDescriptor is the raw JSON profile as published upstream (or
// produced by a modloader installer), matching spec.md §3 exactly.
type VersionDescriptor struct {
	ID                     string               `json:"id"`
	Type                   string               `json:"type"`
	MainClass              string               `json:"mainClass"`
	MinecraftArguments     string               `json:"minecraftArguments,omitempty"`
	InheritsFrom           string               `json:"inheritsFrom,omitempty"`
	MinimumLauncherVersion int                  `json:"minimumLauncherVersion,omitempty"`
	ReleaseTime            string               `json:"releaseTime,omitempty"`
	ComplianceLevel        int                  `json:"complianceLevel,omitempty"`
	AssetIndex             AssetIndexDescriptor `json:"assetIndex"`
	Assets                 string               `json:"assets,omitempty"`
	JavaVersion            *JavaVersion         `json:"javaVersion,omitempty"`
	Downloads              struct {
		Client struct {
			SHA1 string `json:"sha1"`
			Size int64  `json:"size"`
			URL  string `json:"url"`
		} `json:"client"`
	} `json:"downloads"`
	Libraries []Library `json:"libraries"`
	Arguments struct {
		Game []RawArgToken `json:"game"`
		JVM  []RawArgToken `json:"jvm"`
	} `json:"arguments"`
	Logging struct {
		Client LoggingClient `json:"client"`
	} `json:"logging,omitempty"`
}

// --- Resolved, rule-evaluated form -----------------------------------

// LibraryRole distinguishes classpath entries from extractable natives.
type LibraryRole string

const (
	RoleClasspath LibraryRole = "classpath"
	RoleNative    LibraryRole = "native"
)

// ResolvedLibrary is one rule-evaluated, path-resolved library.
type ResolvedLibrary struct {
	Coordinate string // group:artifact:version[:classifier]
	LocalPath  string // full path under the shared libraries dir (libDir already joined)
	RemoteURL  string
	SHA1       string
	Size       int64
	Role       LibraryRole
	ExtractExclude []string
}

// FileRef is a downloadable file with known integrity metadata.
type FileRef struct {
	LocalPath string
	RemoteURL string
	SHA1      string
	Size      int64
}

// AssetIndexRef identifies and locates an asset index document.
type AssetIndexRef struct {
	ID   string
	URL  string
	SHA1 string
	Size int64
}

// ArgToken is a flattened game/jvm argument: either a literal or a
// rule-gated set of values, substituted in a later pass.
type ArgToken struct {
	Literal  string
	Rules    []Rule
	Values   []string
	IsLiteral bool
}

// ResolvedProfile is the flat, rule-evaluated form the downloader and
// launcher assembler consume.
type ResolvedProfile struct {
	VersionID         string
	VersionType       string
	MainClass         string
	Libraries         []ResolvedLibrary
	AssetIndex        AssetIndexRef
	ClientJar         FileRef
	JVMArgs           []ArgToken
	GameArgs          []ArgToken
	LegacyGameArgTmpl string // set when the descriptor used minecraftArguments instead of arguments.game
	LoggingConfig     *FileRef
	LoggingArgument   string
	ComplianceLevel   int
	JavaMajorVersionHint int
}
